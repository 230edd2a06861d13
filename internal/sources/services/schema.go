package services

// ServicesConfig is the top-level structure of the services file: an ordered list.
// The file may be JSON or YAML; JSON documents are valid YAML so one parser covers both.
type ServicesConfig []ServiceProps

// ServiceProps is one entry of the services file.
type ServiceProps struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Target      string `yaml:"target"`
	AuthMode    string `yaml:"authMode,omitempty"`
}
