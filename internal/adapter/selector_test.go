package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"amoeba/internal/linker"
	"amoeba/internal/optimizer"
	"amoeba/internal/probe"
)

// testHost is a bare Host fixture.
type testHost struct {
	env *probe.Environment
	lnk *linker.Linker
	opt *optimizer.Optimizer
}

func newTestHost(env *probe.Environment) *testHost {
	return &testHost{
		env: env,
		lnk: linker.New(zap.NewNop()),
		opt: optimizer.New(zap.NewNop()),
	}
}

func (h *testHost) Environment() *probe.Environment { return h.env }
func (h *testHost) Linker() *linker.Linker          { return h.lnk }
func (h *testHost) Optimizer() *optimizer.Optimizer { return h.opt }

func TestLocalAlwaysDetects(t *testing.T) {
	a := NewLocal(zap.NewNop())
	assert.True(t, a.Detect(&probe.Environment{}))
	assert.True(t, a.Detect(&probe.Environment{IsDocker: true, IsCloud: true}))
}

func TestAdapterPriorities(t *testing.T) {
	log := zap.NewNop()
	assert.Equal(t, 1, NewLocal(log).Priority())
	assert.Equal(t, 9, NewDocker(log).Priority())
	assert.Equal(t, 8, NewWSL(log).Priority())
	assert.Equal(t, 7, NewCloud(log).Priority())
}

func TestSelectFallsBackToLocal(t *testing.T) {
	s := DefaultSelector(zap.NewNop())

	a, err := s.Select(&probe.Environment{}, "auto")
	require.NoError(t, err)
	assert.Equal(t, "local", a.Name())
}

func TestSelectPrefersHighestPriority(t *testing.T) {
	s := DefaultSelector(zap.NewNop())

	// Docker inside WSL: docker (9) beats wsl (8).
	env := &probe.Environment{IsDocker: true, IsWSL: true}
	a, err := s.Select(env, "auto")
	require.NoError(t, err)
	assert.Equal(t, "docker", a.Name())
}

func TestSelectIsDeterministic(t *testing.T) {
	s := DefaultSelector(zap.NewNop())
	env := &probe.Environment{IsWSL: true, IsCloud: true}

	for i := 0; i < 10; i++ {
		a, err := s.Select(env, "auto")
		require.NoError(t, err)
		assert.Equal(t, "wsl", a.Name())
	}
}

func TestSelectExplicitPreference(t *testing.T) {
	s := DefaultSelector(zap.NewNop())
	env := &probe.Environment{IsDocker: true, IsCloud: true}

	a, err := s.Select(env, "cloud")
	require.NoError(t, err)
	assert.Equal(t, "cloud", a.Name())
}

func TestSelectPreferenceNotApplicableFallsBack(t *testing.T) {
	s := DefaultSelector(zap.NewNop())

	a, err := s.Select(&probe.Environment{}, "docker")
	require.NoError(t, err)
	assert.Equal(t, "local", a.Name())
}

func TestSelectUnknownPreference(t *testing.T) {
	s := DefaultSelector(zap.NewNop())
	_, err := s.Select(&probe.Environment{}, "mainframe")
	assert.Error(t, err)
}

func TestSelectorNames(t *testing.T) {
	s := DefaultSelector(zap.NewNop())
	assert.Equal(t, []string{"docker", "wsl", "cloud", "local"}, s.Names())
}

func TestLocalLinkRegistersBaseServices(t *testing.T) {
	h := newTestHost(&probe.Environment{})
	a := NewLocal(zap.NewNop())

	require.NoError(t, a.Prelink(h))
	require.NoError(t, a.Link(h))

	_, ok := h.lnk.Service("platform_info")
	assert.True(t, ok)
	_, ok = h.lnk.Service("user_info")
	assert.True(t, ok)

	// Home mapping resolves paths under ~.
	status := h.lnk.GetStatus()
	assert.NotEmpty(t, status.PathMappings)
}

func TestDockerLinkRegistersContainerInfo(t *testing.T) {
	h := newTestHost(&probe.Environment{
		IsDocker:         true,
		ContainerID:      "3f4a9c1e8b7d",
		ContainerRuntime: "docker",
	})
	a := NewDocker(zap.NewNop())

	require.NoError(t, a.Prelink(h))
	require.NoError(t, a.Link(h))

	svc, ok := h.lnk.Service("container_info")
	require.True(t, ok)
	assert.Equal(t, "3f4a9c1e8b7d", svc["id"])
	assert.Contains(t, h.lnk.GetStatus().HealthEndpoints, "/healthz")
}

func TestCloudLinkRegistersProviderServices(t *testing.T) {
	h := newTestHost(&probe.Environment{
		IsCloud:       true,
		CloudProvider: "aws",
		InstanceType:  "m5.large",
	})
	a := NewCloud(zap.NewNop())

	require.NoError(t, a.Prelink(h))
	require.NoError(t, a.Link(h))

	svc, ok := h.lnk.Service("cloud_provider")
	require.True(t, ok)
	assert.Equal(t, "aws", svc["provider"])
	assert.Equal(t, "m5.large", svc["instance_type"])

	for _, name := range []string{"cloud_storage", "cloud_logging", "cloud_metrics"} {
		_, ok := h.lnk.Service(name)
		assert.True(t, ok, name)
	}
}

func TestWSLOptimizeRecordsTunings(t *testing.T) {
	h := newTestHost(&probe.Environment{IsWSL: true, WSLVersion: "2"})
	a := NewWSL(zap.NewNop())

	require.NoError(t, a.Optimize(h))
	report := h.opt.Report()
	assert.Contains(t, report.OptimizationsApplied, "wsl_optimization")
}
