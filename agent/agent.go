// Package agent orchestrates the attestation agent lifecycle: identifier
// resolution, identity provisioning on the hardware root of trust, the
// registrar handshake, and the concurrent run of the evidence service and
// the revocation listener.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-attestation-agent/api/keyshandler"
	"github.com/ruteri/tee-attestation-agent/api/quoteshandler"
	"github.com/ruteri/tee-attestation-agent/common"
	"github.com/ruteri/tee-attestation-agent/httpserver"
	"github.com/ruteri/tee-attestation-agent/identity"
	"github.com/ruteri/tee-attestation-agent/interfaces"
	"github.com/ruteri/tee-attestation-agent/metrics"
	"github.com/ruteri/tee-attestation-agent/payload"
	"github.com/ruteri/tee-attestation-agent/registrar"
	"github.com/ruteri/tee-attestation-agent/revocation"
	"golang.org/x/sync/errgroup"
)

// Config collects everything the agent needs to bootstrap. The caller owns
// the device handle and closes it after Run returns.
type Config struct {
	Server *httpserver.HTTPServerConfig

	RegistrarURL     string
	RevocationURL    string
	RevocationPubkey string
	RevocationScript string

	// AgentUUID is the configured identifier policy, see ResolveIdentifier.
	AgentUUID   string
	EKAlgorithm string
	PayloadDir  string

	Log *slog.Logger
}

// Agent holds the provisioned identities and the two services built around
// them. All fields are populated once by Bootstrap and read-only afterwards.
type Agent struct {
	cfg *Config
	log *slog.Logger

	agentID  interfaces.AgentID
	device   interfaces.Device
	identity *identity.Manager
	store    *payload.Store

	metricsSrv *metrics.MetricsServer
	srv        *httpserver.Server
	verifier   *revocation.Verifier
	actions    []revocation.Action
}

// Bootstrap provisions the agent end to end: resolve the identifier, create
// the endorsement and attestation identities on the device, register with
// the registrar, activate the returned credential challenge, and prove the
// activation. No evidence request is served before this returns; any error
// here is fatal and the agent must not start.
func Bootstrap(ctx context.Context, cfg *Config, device interfaces.Device) (*Agent, error) {
	log := cfg.Log

	alg, err := interfaces.ParseAlgorithm(cfg.EKAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("could not configure endorsement key algorithm: %w", err)
	}

	agentID, usedConfigured := ResolveIdentifier(cfg.AgentUUID)
	if !usedConfigured {
		log.Warn("Configured agent identifier is not a valid UUID, generated a fresh one", "configured", cfg.AgentUUID, "generated", agentID.String())
	}
	log.Info("Resolved agent identifier", "agentID", agentID.String())

	ids, err := identity.Provision(device, alg, log)
	if err != nil {
		return nil, fmt.Errorf("could not provision identities: %w", err)
	}

	store := payload.NewStore(agentID, ids.PayloadPrivateKey(), cfg.PayloadDir, log)

	registrarClient := &registrar.Client{BaseURL: cfg.RegistrarURL}
	challenge, err := registrarClient.Register(ctx, agentID, ids.EK(), ids.AK())
	if err != nil {
		return nil, fmt.Errorf("could not register with registrar: %w", err)
	}

	secret, err := device.ActivateCredential(*challenge)
	if err != nil {
		return nil, fmt.Errorf("could not activate registrar credential: %w", err)
	}

	authTag := registrar.ComputeAuthTag(secret, agentID)
	// The secret is only needed for the tag.
	for i := range secret {
		secret[i] = 0
	}

	if err := registrarClient.Activate(ctx, agentID, authTag); err != nil {
		return nil, fmt.Errorf("could not prove activation to registrar: %w", err)
	}
	log.Info("Agent activated with registrar", "agentID", agentID.String(), "registrar", cfg.RegistrarURL)

	metricsSrv, err := metrics.New(common.PackageName, cfg.Server.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("could not initialize metrics server: %w", err)
	}

	quotesHandler := quoteshandler.NewHandler(device, ids.PayloadPublicKeyPEM(), metricsSrv.QuotesServed, log)
	keysHandler := keyshandler.NewHandler(store, ids.PayloadPublicKeyPEM(), metricsSrv.KeyDeliveries, log)

	srv, err := httpserver.New(cfg.Server, metricsSrv, quotesHandler, keysHandler)
	if err != nil {
		return nil, fmt.Errorf("could not initialize evidence server: %w", err)
	}

	var verifier *revocation.Verifier
	var actions []revocation.Action
	if cfg.RevocationURL != "" {
		verifier, err = revocation.NewVerifier(cfg.RevocationPubkey)
		if err != nil {
			return nil, fmt.Errorf("could not configure revocation verifier: %w", err)
		}
		if cfg.RevocationScript != "" {
			actions = append(actions, &revocation.ScriptAction{Path: cfg.RevocationScript, Log: log})
		}
	}

	return &Agent{
		cfg:        cfg,
		log:        log,
		agentID:    agentID,
		device:     device,
		identity:   ids,
		store:      store,
		metricsSrv: metricsSrv,
		srv:        srv,
		verifier:   verifier,
		actions:    actions,
	}, nil
}

// AgentID returns the identifier the agent registered under.
func (a *Agent) AgentID() interfaces.AgentID {
	return a.agentID
}

// Run serves the evidence API and the revocation listener until one of them
// fails or ctx is canceled. The first terminal error cancels the sibling
// service and is returned; one service finishing is never success for the
// agent as a whole.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Run(ctx)
	})

	g.Go(func() error {
		return a.runRevocationListener(ctx)
	})

	return g.Wait()
}

func (a *Agent) runRevocationListener(ctx context.Context) error {
	if a.cfg.RevocationURL == "" {
		a.log.Info("Revocation listener disabled, no notification endpoint configured")
		<-ctx.Done()
		return ctx.Err()
	}

	source, err := revocation.DialWebsocket(ctx, a.cfg.RevocationURL, a.log)
	if err != nil {
		return fmt.Errorf("could not subscribe to revocation notifications: %w", err)
	}
	defer source.Close()

	listener := revocation.NewListener(&revocation.ListenerConfig{
		Source:   source,
		Verifier: a.verifier,
		Actions:  a.actions,
		Log:      a.log,
		Received: a.metricsSrv.RevocationsReceived,
		Rejected: a.metricsSrv.RevocationsRejected,
	})
	return listener.Run(ctx)
}
