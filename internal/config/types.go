package config

// Config is the top-level configuration structure parsed from imgchar YAML.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline describes how a run is executed and where its outputs go.
type Pipeline struct {
	Name             string           `yaml:"name"`
	DatasetFamily    string           `yaml:"dataset_family"`
	Workers          int              `yaml:"workers"`
	Defaults         StageDefaults    `yaml:"defaults"`
	ReferenceCatalog ReferenceCatalog `yaml:"reference_catalog"`
	Stages           []Stage          `yaml:"stages"`
	Outputs          []Output         `yaml:"outputs"`
	Publish          Publish          `yaml:"publish"`
}

// StageDefaults holds values applied to stages that don't set their own.
type StageDefaults struct {
	Timeout string `yaml:"timeout"`
	Workdir string `yaml:"workdir"`
}

// ReferenceCatalog locates the astrometric reference catalog setting.
type ReferenceCatalog struct {
	EnvVar  string `yaml:"env_var"`
	EnvFile string `yaml:"env_file"`
}

// Stage binds one pipeline stage to the command that implements it.
type Stage struct {
	ID      string         `yaml:"id"`
	Command string         `yaml:"command"`
	Timeout string         `yaml:"timeout"`
	Workdir string         `yaml:"workdir"`
	Params  map[string]any `yaml:"params"`
}

// Output maps a context key to its published dataset name.
type Output struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// Publish selects the backend that receives outputs.
type Publish struct {
	Backend string `yaml:"backend"`
	Root    string `yaml:"root"`
	DSN     string `yaml:"dsn"`
}

// Publish backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)
