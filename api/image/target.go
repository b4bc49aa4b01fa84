package image

// Target is one buildable image: a descriptor file, a context directory and
// the repository it is published to.
type Target struct {
	Name       string
	Repository string
	Dockerfile string
	Context    string // relative to the workspace
}

const (
	Backend      = "backend"
	ReverseProxy = "reverse-proxy"
)

func DefaultTargets(backendRepo, proxyRepo string) []Target {
	return []Target{
		{Name: Backend, Repository: backendRepo, Dockerfile: "Dockerfile", Context: "."},
		{Name: ReverseProxy, Repository: proxyRepo, Dockerfile: "Dockerfile-reverse-proxy", Context: "."},
	}
}
