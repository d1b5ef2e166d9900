package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-attestation-agent/common"
	"github.com/ruteri/tee-attestation-agent/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:9002",
	Usage: "address to listen on for the evidence API",
}

var RegistrarURLFlag = &cli.StringFlag{
	Name:  "registrar-url",
	Value: "http://127.0.0.1:8890",
	Usage: "registrar endpoint to register and activate with",
}

var RevocationURLFlag = &cli.StringFlag{
	Name:  "revocation-url",
	Usage: "websocket endpoint for revocation notifications. Empty disables the listener",
}

var RevocationPubkeyFlag = &cli.StringFlag{
	Name:  "revocation-pubkey",
	Usage: "hex public key or address trusted to sign revocation notices. Required with revocation-url",
}

var RevocationScriptFlag = &cli.StringFlag{
	Name:  "revocation-script",
	Usage: "executable invoked with each validated revocation notice on stdin",
}

var AgentUUIDFlag = &cli.StringFlag{
	Name:  "agent-uuid",
	Value: "generate",
	Usage: "agent identifier: a UUID, 'generate', 'openstack' or 'hash_ek'",
}

var EKAlgorithmFlag = &cli.StringFlag{
	Name:  "ek-algorithm",
	Value: "rsa",
	Usage: "endorsement key algorithm: 'rsa' or 'ecdsa'",
}

var PayloadDirFlag = &cli.StringFlag{
	Name:  "payload-dir",
	Value: "/var/lib/tee-attestation-agent",
	Usage: "directory the decrypted payload is written to",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
