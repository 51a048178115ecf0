// Command remote-test-agent runs the agent: a
// long-running HTTP server over a workspace directory, exposing the
// /image, /tar, /tree, /exec and /files routes to a controller.
package main

import (
	"fmt"
	"os"

	"github.com/andycostintoma/remote-test-agent/internal/agent"
	"github.com/andycostintoma/remote-test-agent/internal/server"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `usage: remote-test-agent [options] <image-name> <workspace>

positional arguments:
  image-name          name reported by GET /image
  workspace           directory the agent manages as its payload area

options:
  -p, --port <n>      TCP port to listen on (default 8080)
      --stop-cmd <s>  shell command run once by POST /image/stop
      --tls-key <p>   path to a PEM private key (enables TLS with --tls-cert)
      --tls-cert <p>  path to a PEM certificate (enables TLS with --tls-key)
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("remote-test-agent", pflag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	port := flags.IntP("port", "p", 8080, "TCP port to listen on")
	stopCmd := flags.String("stop-cmd", "", "shell command run once by POST /image/stop")
	tlsKey := flags.String("tls-key", "", "path to a PEM private key")
	tlsCert := flags.String("tls-cert", "", "path to a PEM certificate")

	if err := flags.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	positional := flags.Args()
	if len(positional) != 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	imageName, workspace := positional[0], positional[1]

	if (*tlsKey == "") != (*tlsCert == "") {
		fmt.Fprintln(os.Stderr, "remote-test-agent: --tls-key and --tls-cert must both be set to enable TLS")
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		logger.Error("failed to create workspace", zap.String("workspace", workspace), zap.Error(err))
		return 1
	}

	statePath, err := agent.StatePath()
	if err != nil {
		logger.Error("failed to resolve state path", zap.Error(err))
		return 1
	}

	id, err := agent.LoadOrCreateIdentity(statePath)
	if err != nil {
		logger.Error("failed to load agent identity", zap.Error(err))
		return 1
	}

	a := agent.New(id, imageName, workspace, *stopCmd, logger)
	logger.Info("agent starting",
		zap.String("agent_uuid", id.AgentUUID),
		zap.Uint64("session_count", id.SessionCount),
		zap.String("image_name", imageName),
		zap.String("workspace", workspace),
		zap.Int("port", *port))

	srv := server.New(server.Config{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     agent.Router(a),
		Logger:      logger,
		TLSCertFile: *tlsCert,
		TLSKeyFile:  *tlsKey,
	})

	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}
