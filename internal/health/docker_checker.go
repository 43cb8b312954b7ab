package health

import (
	"context"
	"os/exec"
	"strings"

	loomexec "github.com/felixgeelhaar/loom/internal/exec"
)

// DockerChecker checks that the daemon behind the docker runner answers
// and that the default node image is available.
type DockerChecker struct {
	image string
}

// NewDockerChecker creates a checker. An empty image skips the image check.
func NewDockerChecker(image string) *DockerChecker {
	return &DockerChecker{image: image}
}

// Name returns the name of this health check.
func (c *DockerChecker) Name() string {
	return "docker-daemon"
}

// Check runs `docker info`, then looks for the image in the local cache.
// A missing image is degraded since the first node pulls it.
func (c *DockerChecker) Check(ctx context.Context) *Result {
	path, err := exec.LookPath("docker")
	if err != nil {
		return Unhealthy("docker not found in PATH").
			WithDetail("suggestion", "Install Docker or set exec.policy.docker.required: false")
	}

	out, err := exec.CommandContext(ctx, path, "info", "--format", "{{.ServerVersion}}").CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		r := Unhealthy("Docker daemon is not reachable").WithDetail("error", err.Error())
		if strings.Contains(text, "Cannot connect to the Docker daemon") {
			r.WithDetail("suggestion", "Start Docker Desktop or Docker daemon")
		} else if text != "" {
			r.WithDetail("output", text)
		}
		return r
	}

	if c.image == "" {
		return Healthy("Docker daemon " + text).WithDetail("server_version", text)
	}
	present, err := loomexec.ImagePresent(ctx, c.image)
	switch {
	case err != nil:
		return Degraded("cannot inspect image "+c.image).WithDetail("error", err.Error())
	case !present:
		return Degraded("image "+c.image+" is not pulled yet").
			WithDetail("server_version", text).
			WithDetail("suggestion", "docker pull "+c.image)
	}
	return Healthy("Docker daemon "+text+", image "+c.image+" present").
		WithDetail("server_version", text).
		WithDetail("image", c.image)
}
