package project

import "time"

// BlockType tags the variant carried by a Block.
type BlockType string

const (
	TypeContainer          BlockType = "container"
	TypeSlackMessage       BlockType = "slack_message"
	TypeTeamCityBuild      BlockType = "teamcity_build"
	TypeMavenCentralStatus BlockType = "maven_central_status"
	TypeGitHubAction       BlockType = "github_action"
	TypeGitHubRelease      BlockType = "github_release"
	TypeUserAction         BlockType = "user_action"
)

// ParameterType is the declared value type of a project or block parameter.
type ParameterType string

const (
	ParamString  ParameterType = "STRING"
	ParamNumber  ParameterType = "NUMBER"
	ParamBoolean ParameterType = "BOOLEAN"
	ParamSecret  ParameterType = "SECRET"
	ParamURL     ParameterType = "URL"
	ParamEmail   ParameterType = "EMAIL"
	ParamPath    ParameterType = "PATH"
)

type ValidationType string

const (
	RuleRegex       ValidationType = "REGEX"
	RuleMinLength   ValidationType = "MIN_LENGTH"
	RuleMaxLength   ValidationType = "MAX_LENGTH"
	RuleRequired    ValidationType = "REQUIRED"
	RuleURLFormat   ValidationType = "URL_FORMAT"
	RuleEmailFormat ValidationType = "EMAIL_FORMAT"
)

type ValidationRule struct {
	Type    ValidationType `yaml:"type" json:"type"`
	Value   string         `yaml:"value,omitempty" json:"value,omitempty"`
	Message string         `yaml:"message,omitempty" json:"message,omitempty"`
}

// ConnectionType names an external system a project talks to.
type ConnectionType string

const (
	ConnSlack        ConnectionType = "SLACK"
	ConnTeamCity     ConnectionType = "TEAMCITY"
	ConnGitHub       ConnectionType = "GITHUB"
	ConnMavenCentral ConnectionType = "MAVEN_CENTRAL_PORTAL"
)

type ProjectParameter struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Type        ParameterType    `yaml:"type,omitempty" json:"type,omitempty"`
	Default     *string          `yaml:"default,omitempty" json:"default,omitempty"`
	Optional    bool             `yaml:"optional,omitempty" json:"optional,omitempty"`
	Rules       []ValidationRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// MessageTemplate is a named text with {{parameter}} placeholders.
type MessageTemplate struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Template    string `yaml:"template" json:"template"`
}

// Project is the immutable release template loaded from projects/*.yaml.
type Project struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Version     int                `yaml:"version,omitempty" json:"version"`
	Parameters  []ProjectParameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Connections []ConnectionType   `yaml:"connections,omitempty" json:"connections,omitempty"`
	Templates   []MessageTemplate  `yaml:"templates,omitempty" json:"templates,omitempty"`
	Graph       BlockGraph         `yaml:"graph" json:"graph"`

	// SlackApprovalChannel, when set, receives a message for every user input request.
	SlackApprovalChannel string `yaml:"slack_approval_channel,omitempty" json:"slack_approval_channel,omitempty"`

	Source      string `yaml:"-" json:"source,omitempty"`
	Fingerprint string `yaml:"-" json:"fingerprint,omitempty"` // blake3:<hex> of the source file.
}

// Template returns the named message template.
func (p *Project) Template(name string) (MessageTemplate, bool) {
	for _, t := range p.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return MessageTemplate{}, false
}

// Parameter returns the named project parameter.
func (p *Project) Parameter(name string) (ProjectParameter, bool) {
	for _, param := range p.Parameters {
		if param.Name == name {
			return param, true
		}
	}
	return ProjectParameter{}, false
}

// EdgeKind is the control-flow semantics of a BlockConnection.
type EdgeKind string

const (
	Sequential EdgeKind = "SEQUENTIAL"
	Parallel   EdgeKind = "PARALLEL"
)

type BlockConnection struct {
	ID   string   `yaml:"id,omitempty" json:"id,omitempty"`
	From string   `yaml:"from" json:"from"`
	To   string   `yaml:"to" json:"to"`
	Type EdgeKind `yaml:"type,omitempty" json:"type,omitempty"`
}

// Kind returns the edge kind, defaulting to SEQUENTIAL.
func (c BlockConnection) Kind() EdgeKind {
	if c.Type == "" {
		return Sequential
	}
	return c.Type
}

type BlockGraph struct {
	Blocks      []Block           `yaml:"blocks" json:"blocks"`
	Connections []BlockConnection `yaml:"connections,omitempty" json:"connections,omitempty"`
}

// Header carries the attributes every block variant shares.
type Header struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name,omitempty" json:"name,omitempty"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Type        BlockType        `yaml:"type" json:"type"`
	Parameters  []BlockParameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Outputs     []BlockOutput    `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Timeout     time.Duration    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries  *int             `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// Block is a tagged variant: Header.Type selects which payload is set.
type Block struct {
	Header `yaml:",inline"`

	Container     *ContainerSpec     `yaml:"container,omitempty" json:"container,omitempty"`
	Slack         *SlackMessageSpec  `yaml:"slack,omitempty" json:"slack,omitempty"`
	TeamCity      *TeamCityBuildSpec `yaml:"teamcity,omitempty" json:"teamcity,omitempty"`
	Maven         *MavenCentralSpec  `yaml:"maven,omitempty" json:"maven,omitempty"`
	GitHubAction  *GitHubActionSpec  `yaml:"github_action,omitempty" json:"github_action,omitempty"`
	GitHubRelease *GitHubReleaseSpec `yaml:"github_release,omitempty" json:"github_release,omitempty"`
	UserAction    *UserActionSpec    `yaml:"user_action,omitempty" json:"user_action,omitempty"`
}

type ContainerSpec struct {
	Graph BlockGraph `yaml:"graph" json:"graph"`
}

type SlackMessageSpec struct {
	Channel         string `yaml:"channel" json:"channel"`
	MessageTemplate string `yaml:"message_template,omitempty" json:"message_template,omitempty"`
	TemplateName    string `yaml:"template_name,omitempty" json:"template_name,omitempty"`
	ThreadTS        string `yaml:"thread_ts,omitempty" json:"thread_ts,omitempty"`
}

type TeamCityBuildSpec struct {
	BuildConfigID string            `yaml:"build_config_id" json:"build_config_id"`
	Branch        string            `yaml:"branch,omitempty" json:"branch,omitempty"`
	Properties    map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type MavenCentralSpec struct {
	GroupID    string `yaml:"group_id" json:"group_id"`
	ArtifactID string `yaml:"artifact_id" json:"artifact_id"`
	Version    string `yaml:"version" json:"version"`
}

type GitHubActionSpec struct {
	Repository string            `yaml:"repository" json:"repository"`
	WorkflowID string            `yaml:"workflow_id" json:"workflow_id"`
	Ref        string            `yaml:"ref,omitempty" json:"ref,omitempty"`
	Inputs     map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

type GitHubReleaseSpec struct {
	Repository    string `yaml:"repository" json:"repository"`
	TagPattern    string `yaml:"tag_pattern" json:"tag_pattern"`
	ReleaseBranch string `yaml:"release_branch,omitempty" json:"release_branch,omitempty"`
	Name          string `yaml:"name,omitempty" json:"name,omitempty"`
	Body          string `yaml:"body,omitempty" json:"body,omitempty"`
	Draft         bool   `yaml:"draft,omitempty" json:"draft,omitempty"`
	Prerelease    bool   `yaml:"prerelease,omitempty" json:"prerelease,omitempty"`
}

type UserActionSpec struct {
	Instructions string   `yaml:"instructions" json:"instructions"`
	InputType    string   `yaml:"input_type,omitempty" json:"input_type,omitempty"`
	Options      []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// SourceKind tags the variant carried by a ParameterSource.
type SourceKind string

const (
	SourceManual           SourceKind = "manual"
	SourceProjectParameter SourceKind = "project_parameter"
	SourceBlockOutput      SourceKind = "block_output"
	SourceDefault          SourceKind = "default"
)

// ParameterSource says where a block parameter's value comes from.
type ParameterSource struct {
	Kind      SourceKind `yaml:"kind" json:"kind"`
	Parameter string     `yaml:"parameter,omitempty" json:"parameter,omitempty"` // project_parameter
	Block     string     `yaml:"block,omitempty" json:"block,omitempty"`         // block_output
	Output    string     `yaml:"output,omitempty" json:"output,omitempty"`       // block_output
	Value     string     `yaml:"value,omitempty" json:"value,omitempty"`         // default
}

type BlockParameter struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Type        ParameterType    `yaml:"type,omitempty" json:"type,omitempty"`
	Source      ParameterSource  `yaml:"source" json:"source"`
	Optional    bool             `yaml:"optional,omitempty" json:"optional,omitempty"`
	Rules       []ValidationRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

type BlockOutput struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
}

// BuiltinOutputs lists the outputs each executor always produces on success.
var BuiltinOutputs = map[BlockType][]string{
	TypeSlackMessage:       {"message_ts", "channel", "message_url"},
	TypeTeamCityBuild:      {"build_id", "build_number", "build_url", "status"},
	TypeMavenCentralStatus: {"status", "status_url"},
	TypeGitHubAction:       {"run_id", "run_url", "conclusion"},
	TypeGitHubRelease:      {"release_id", "release_url", "tag_name"},
	TypeUserAction:         {"value", "submitted_by"},
}

// HasOutput reports whether the block declares or always produces the named output.
func (b Block) HasOutput(name string) bool {
	for _, o := range b.Outputs {
		if o.Name == name {
			return true
		}
	}
	for _, o := range BuiltinOutputs[b.Type] {
		if o == name {
			return true
		}
	}
	return false
}

// EffectiveMaxRetries returns the block's retry budget, falling back to def.
func (b Block) EffectiveMaxRetries(def int) int {
	if b.MaxRetries != nil && *b.MaxRetries >= 0 {
		return *b.MaxRetries
	}
	return def
}

// payloadTypes lists which variant payloads are populated.
func (b Block) payloadTypes() []BlockType {
	var set []BlockType
	if b.Container != nil {
		set = append(set, TypeContainer)
	}
	if b.Slack != nil {
		set = append(set, TypeSlackMessage)
	}
	if b.TeamCity != nil {
		set = append(set, TypeTeamCityBuild)
	}
	if b.Maven != nil {
		set = append(set, TypeMavenCentralStatus)
	}
	if b.GitHubAction != nil {
		set = append(set, TypeGitHubAction)
	}
	if b.GitHubRelease != nil {
		set = append(set, TypeGitHubRelease)
	}
	if b.UserAction != nil {
		set = append(set, TypeUserAction)
	}
	return set
}

// KnownBlockType reports whether t is a supported variant.
func KnownBlockType(t BlockType) bool {
	switch t {
	case TypeContainer, TypeSlackMessage, TypeTeamCityBuild, TypeMavenCentralStatus,
		TypeGitHubAction, TypeGitHubRelease, TypeUserAction:
		return true
	}
	return false
}

// Connection returns the external system a block type calls, if any.
func (t BlockType) Connection() (ConnectionType, bool) {
	switch t {
	case TypeSlackMessage:
		return ConnSlack, true
	case TypeTeamCityBuild:
		return ConnTeamCity, true
	case TypeGitHubAction, TypeGitHubRelease:
		return ConnGitHub, true
	case TypeMavenCentralStatus:
		return ConnMavenCentral, true
	}
	return "", false
}
