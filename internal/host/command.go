package host

import (
	"github.com/AppMana/golobulus/internal/debugstore"
	"github.com/AppMana/golobulus/internal/model"
)

// AboutMessage is the text returned for the About command.
const AboutMessage = "Golobulus: The adder plods where it ought not."

// Command is a host command delivered to the main thread.
type Command interface {
	command()
}

// About asks for the plugin description.
type About struct{}

// GlobalSetup is sent once when the plugin is loaded. RegistrationID is the
// id the host assigned to the plugin.
type GlobalSetup struct {
	RegistrationID int32
}

// SequenceSetup creates a new instance.
type SequenceSetup struct{}

// SequenceResetup recreates an instance from its flattened form after the
// host reloaded a project.
type SequenceResetup struct {
	Version uint16
	Data    []byte
}

// SequenceSetdown destroys an instance.
type SequenceSetdown struct {
	Instance model.InstanceID
}

// UserChangedParam reports a parameter interaction.
type UserChangedParam struct {
	Instance model.InstanceID
	Index    model.ParamIdx
	Value    ParamValue
}

// UpdateParamsUI asks which parameters are currently enabled.
type UpdateParamsUI struct {
	Instance model.InstanceID
}

// Idle is the host's periodic idle callback.
type Idle struct{}

// Event is a draw request for an instance.
type Event struct {
	Instance model.InstanceID
}

func (About) command()            {}
func (GlobalSetup) command()      {}
func (SequenceSetup) command()    {}
func (SequenceResetup) command()  {}
func (SequenceSetdown) command()  {}
func (UserChangedParam) command() {}
func (UpdateParamsUI) command()   {}
func (Idle) command()             {}
func (Event) command()            {}

// ParamValue carries the value of a changed parameter. Which field is read
// depends on the parameter: paths and dynamic values use Text, ShowDebug
// uses Bool, StartRender uses Int as the frame count.
type ParamValue struct {
	Text string `json:"text,omitempty"`
	Bool bool   `json:"bool,omitempty"`
	Int  int    `json:"int,omitempty"`
}

// Result is what a command returns to the host.
type Result struct {
	// Message is shown to the user, for example when a script fails to load.
	Message  string           `json:"message,omitempty"`
	Instance model.InstanceID `json:"instance,omitempty"`
	JobID    model.JobID      `json:"job_id,omitempty"`
	View     *View            `json:"view,omitempty"`
	Params   []ParamState     `json:"params,omitempty"`
}

// ParamState is the UI state of one parameter.
type ParamState struct {
	Index   model.ParamIdx `json:"index"`
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
	Value   string         `json:"value,omitempty"`

	// Error is the last recorded error for the parameter.
	Error string `json:"error,omitempty"`
}

// View is what the draw path renders for an instance.
type View struct {
	Instance     model.InstanceID                       `json:"instance"`
	ScriptLoaded bool                                   `json:"script_loaded"`
	ScriptPath   string                                 `json:"script_path,omitempty"`
	VenvPath     string                                 `json:"venv_path,omitempty"`
	ActiveJob    model.JobID                            `json:"active_job,omitempty"`
	Rendering    bool                                   `json:"rendering"`
	Progress     *float32                               `json:"progress,omitempty"`
	ShowDebug    bool                                   `json:"show_debug"`
	Params       []ParamEntry                           `json:"params,omitempty"`
	Errors       map[model.ParamIdx]debugstore.Contents `json:"errors,omitempty"`
}
