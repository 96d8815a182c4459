package turn

// Generator names. Routing targets generators by name so the mapping can
// be asserted independently of any generator being constructed.
const (
	GeneratorResume    = "resume-generator"
	GeneratorInterview = "interview-generator"
	GeneratorChat      = "default-chat-generator"
)

// RouteIntent maps an intent to a generator name. The mapping is total:
// any label outside the known set routes to the default chat generator.
func RouteIntent(intent Intent) string {
	switch intent {
	case IntentResumeOptimization:
		return GeneratorResume
	case IntentMockInterview:
		return GeneratorInterview
	default:
		return GeneratorChat
	}
}

// Registry holds the constructed generators keyed by name.
type Registry struct {
	generators map[string]Generator
	fallback   Generator
}

func NewRegistry(resume, interview, chat Generator) *Registry {
	return &Registry{
		generators: map[string]Generator{
			GeneratorResume:    resume,
			GeneratorInterview: interview,
			GeneratorChat:      chat,
		},
		fallback: chat,
	}
}

// Lookup resolves a generator name; unknown names get the default chat
// generator so a routed turn always has somewhere to go.
func (r *Registry) Lookup(name string) Generator {
	if g, ok := r.generators[name]; ok && g != nil {
		return g
	}
	return r.fallback
}
