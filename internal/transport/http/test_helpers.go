package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/config"
	"github.com/sosnairobi/aidlink-server/internal/dispatch"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/intake"
	"github.com/sosnairobi/aidlink-server/internal/log"
	"github.com/sosnairobi/aidlink-server/internal/notify"
	"github.com/sosnairobi/aidlink-server/internal/registry"
	"github.com/sosnairobi/aidlink-server/internal/relay"
	"github.com/sosnairobi/aidlink-server/internal/session"
	"github.com/sosnairobi/aidlink-server/internal/store/sqlite"
)

// testEnv wires the full pipeline behind an httptest server.
type testEnv struct {
	ts       *httptest.Server
	store    *sqlite.SQLiteStore
	bus      *bus.Memory
	registry *registry.Service
	sessions *session.Coordinator
	jwtCfg   *auth.JWTConfig
	logger   zerolog.Logger
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := log.Discard()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.NewMemory(logger)
	t.Cleanup(func() { _ = b.Close() })

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "aidlink",
		Audience: "aidlink-api",
		TTL:      time.Hour,
	}

	reg := registry.NewService(st, b, jwtCfg, logger)
	ink := intake.NewService(st, b, 0.002, logger)
	disp := dispatch.NewService(st, reg, b, 5, logger)
	rly := relay.New(logger)
	coord := session.NewCoordinator(st, b, time.Hour, logger)
	coord.SetTeardownFunc(rly.CloseRoom)
	router := notify.NewRouter(logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	disp.Start()
	coord.Start(ctx, time.Minute)
	router.Start(b)

	cfg := config.Default()
	cfg.Addr = ":0"
	server := NewServer(Deps{
		Intake:    ink,
		Registry:  reg,
		Dispatch:  disp,
		Sessions:  coord,
		Relay:     rly,
		Notify:    router,
		Store:     st,
		JWTConfig: jwtCfg,
	}, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:       ts,
		store:    st,
		bus:      b,
		registry: reg,
		sessions: coord,
		jwtCfg:   jwtCfg,
		logger:   logger,
	}
}

// addVolunteer registers and verifies a volunteer, returning its ID and JWT.
func (env *testEnv) addVolunteer(t *testing.T, loc geo.Point, skills ...string) (string, string) {
	t.Helper()

	_, code, err := env.registry.Register(context.Background(), registry.Registration{
		Name:     "test volunteer",
		Phone:    "+254700000000",
		Skills:   skills,
		Location: &loc,
	})
	if err != nil {
		t.Fatalf("register volunteer: %v", err)
	}
	verified, token, err := env.registry.Verify(context.Background(), code)
	if err != nil {
		t.Fatalf("verify volunteer: %v", err)
	}
	return verified.ID, token
}
