package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tranvictor/ipregistry"
	"github.com/tranvictor/ipregistry/agent"
	redisstore "github.com/tranvictor/ipregistry/persistence/redis"
)

const envPrefix = "IPREG_"

var errOperationFailed = errors.New("operation failed")

// config holds the persistent flags. Unset flags fall back to IPREG_*
// environment variables.
type config struct {
	rpcURL         string
	privateKey     string
	contract       string
	chainID        uint64
	confirmTimeout time.Duration
	redisURL       string
}

// session is what every subcommand runs against.
type session struct {
	manager *ipregistry.Manager
	agent   *agent.KeyedAgent
	redis   redis.UniversalClient
}

func (s *session) close() {
	s.manager.Close()
	s.agent.Close()
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithConfig(&config{})
}

// newRootCmdWithConfig binds the persistent flags to cfg.
func newRootCmdWithConfig(cfg *config) *cobra.Command {
	root := &cobra.Command{
		Use:           "ipregistry",
		Short:         "Register, transfer and inspect records in the IP registry contract",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.resolve(cmd, os.LookupEnv)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.rpcURL, "rpc", "", "ledger RPC endpoint (env IPREG_RPC)")
	flags.StringVar(&cfg.privateKey, "key", "", "hex private key of the signing account (env IPREG_KEY)")
	flags.StringVar(&cfg.contract, "contract", "", "registry contract address (env IPREG_CONTRACT)")
	flags.Uint64Var(&cfg.chainID, "chain-id", ipregistry.DefaultChainID, "chain the registry lives on (env IPREG_CHAIN_ID)")
	flags.DurationVar(&cfg.confirmTimeout, "confirm-timeout", ipregistry.DefaultConfirmationTimeout, "how long to wait for a receipt (env IPREG_CONFIRM_TIMEOUT)")
	flags.StringVar(&cfg.redisURL, "redis", "", "redis URL for shared tx and in-flight state (env IPREG_REDIS)")

	root.AddCommand(
		newRegisterCmd(cfg),
		newTransferCmd(cfg),
		newUpdateCmd(cfg),
		newViewCmd(cfg),
		newHistoryCmd(cfg),
		newVerifyCmd(cfg),
		newReconcileCmd(cfg),
	)
	return root
}

// resolve fills flags the user didn't set from the environment and checks
// the required ones.
func (c *config) resolve(cmd *cobra.Command, lookup func(string) (string, bool)) error {
	flags := cmd.Flags()
	fromEnv := func(flag string) (string, bool) {
		if flags.Changed(flag) {
			return "", false
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
		value, ok := lookup(name)
		return strings.TrimSpace(value), ok && strings.TrimSpace(value) != ""
	}

	if v, ok := fromEnv("rpc"); ok {
		c.rpcURL = v
	}
	if v, ok := fromEnv("key"); ok {
		c.privateKey = v
	}
	if v, ok := fromEnv("contract"); ok {
		c.contract = v
	}
	if v, ok := fromEnv("redis"); ok {
		c.redisURL = v
	}
	if v, ok := fromEnv("chain-id"); ok {
		chainID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sCHAIN_ID %q: %w", envPrefix, v, err)
		}
		c.chainID = chainID
	}
	if v, ok := fromEnv("confirm-timeout"); ok {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sCONFIRM_TIMEOUT %q: %w", envPrefix, v, err)
		}
		c.confirmTimeout = timeout
	}

	var missing []string
	if c.rpcURL == "" {
		missing = append(missing, "--rpc")
	}
	if c.privateKey == "" {
		missing = append(missing, "--key")
	}
	if c.contract == "" {
		missing = append(missing, "--contract")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if !common.IsHexAddress(c.contract) {
		return fmt.Errorf("invalid contract address %q", c.contract)
	}
	return nil
}

// open builds the agent and the Manager and connects them. The wallet
// status is printed when the connection fails.
func (c *config) open(ctx context.Context, out io.Writer) (*session, error) {
	keyed, err := agent.NewKeyedAgent([]string{c.privateKey},
		agent.WithRPC(c.chainID, c.rpcURL),
		agent.WithInitialChain(c.chainID),
	)
	if err != nil {
		return nil, err
	}

	opts := []ipregistry.ManagerOption{
		ipregistry.WithAllowedChainID(c.chainID),
		ipregistry.WithConfirmationTimeout(c.confirmTimeout),
	}
	s := &session{agent: keyed}
	if c.redisURL != "" {
		redisOpts, err := redis.ParseURL(c.redisURL)
		if err != nil {
			keyed.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		opts = append(opts,
			ipregistry.WithTxStore(redisstore.NewTxStore(s.redis)),
			ipregistry.WithIdempotencyStore(redisstore.NewIdempotencyStore(s.redis)),
		)
	}

	s.manager, err = ipregistry.NewManager(common.HexToAddress(c.contract), keyed, opts...)
	if err != nil {
		s.agent.Close()
		return nil, err
	}

	if err := s.manager.Connect(ctx); err != nil {
		_ = printStatus(out, s.manager, ipregistry.SectionWallet)
		s.close()
		return nil, errOperationFailed
	}
	logger.WithFields(logger.Fields{
		"address":  s.manager.Session().Address.Hex(),
		"contract": c.contract,
		"redis":    c.redisURL != "",
	}).Debug("Registry session opened")
	return s, nil
}

// printStatus writes the latest status of section and returns
// errOperationFailed when it is an error.
func printStatus(out io.Writer, m *ipregistry.Manager, section string) error {
	entry, ok := m.Status(section)
	if !ok {
		return nil
	}
	fmt.Fprintf(out, "[%s] %s\n", entry.Severity, entry.Message)
	if entry.Severity == ipregistry.SeverityError {
		return errOperationFailed
	}
	return nil
}
