package taskfile

// ParamType is the accepted type of a task parameter value.
type ParamType string

// Recognized parameter types. Anything else is a validation error.
const (
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
	ParamInt    ParamType = "int"
)

// ParamSpec describes one flag a task accepts on the command line.
type ParamSpec struct {
	Short   string    `yaml:"short"`
	Long    string    `yaml:"long"`
	Default string    `yaml:"default"`
	Choices []string  `yaml:"choices"`
	Arity   int       `yaml:"arity"`
	Type    ParamType `yaml:"type"`
}

// ForeachSpec describes how a task's subtasks are enumerated.
//
// Exactly one of Items or Glob should be set; Glob is resolved relative to
// the task file's directory.
type ForeachSpec struct {
	Items    []string `yaml:"items"`
	Glob     string   `yaml:"glob"`
	ItemVar  string   `yaml:"as"`
	Parallel bool     `yaml:"parallel"`
}

// TaskSpec is the declarative, loader-produced description of one task.
// Reserved capitalized parameter names (Serial, Expand) are rejected by
// Validate, not by this type.
type TaskSpec struct {
	Name        string               `yaml:"name"`
	Help        string               `yaml:"help"`
	Before      []string             `yaml:"before"`
	After       []string             `yaml:"after"`
	Foreach     *ForeachSpec         `yaml:"foreach"`
	Params      map[string]ParamSpec `yaml:"params"`
	Input       []string             `yaml:"input"`
	Output      []string             `yaml:"output"`
	Env         map[string]string    `yaml:"env"`
	Action      string               `yaml:"action"`
	Parallel    bool                 `yaml:"parallel"`
	Interactive bool                 `yaml:"interactive"`
	Timeout     string               `yaml:"timeout"`
}

// File is the parsed representation of an entire task file.
type File struct {
	Path  string              `yaml:"-"`
	Dir   string              `yaml:"-"`
	Tasks map[string]TaskSpec `yaml:"tasks"`
}

// ReservedParamNames are built-in flags the parser injects; user task specs
// may not declare a parameter using one of these names.
var ReservedParamNames = map[string]struct{}{
	"Serial": {},
	"Expand": {},
}
