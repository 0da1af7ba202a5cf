package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uncomputable/tappy/btc"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/history"
	"github.com/uncomputable/tappy/miniscript"
	"github.com/uncomputable/tappy/satisfy"
	"github.com/uncomputable/tappy/secrets"
	"github.com/uncomputable/tappy/spend"
	"github.com/uncomputable/tappy/state"
	"github.com/uncomputable/tappy/taptree"
	"github.com/uncomputable/tappy/timelock"
)

const (
	defaultStateFile  = "tappy.json"
	defaultDebugLevel = "info"

	// version is the current version of the tool. It is set during build.
	version = "0.3.0"

	Commit = ""

	envPrefix = "TAPPY"
)

var (
	log         = btclog.Disabled
	chainParams = &chaincfg.RegressionNetParams

	// stdout receives everything the operator asked to see.
	stdout io.Writer = os.Stdout

	// logHandler receives all log output, stderr if nil.
	logHandler btclog.Handler
)

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tappy",
		Short: "Tappy builds and spends Taproot descriptor outputs",
		Long: `Tappy manages a set of keys and hash preimages and builds a chain of
Taproot transactions whose outputs are locked by tr() descriptors with
Miniscript leaves. Every command loads the state file, applies one change and
saves the state again.`,
		Version: fmt.Sprintf("v%s, commit %s", version, Commit),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			params, err := btc.ChainParams(
				viper.GetBool("mainnet"), viper.GetBool("testnet"),
				viper.GetBool("signet"),
			)
			if err != nil {
				return err
			}
			chainParams = params

			return setupLogging(viper.GetString("debuglevel"))
		},
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	cmd.PersistentFlags().String(
		"statefile", defaultStateFile, "the JSON file that holds the "+
			"keys, UTXOs and the transaction draft",
	)
	cmd.PersistentFlags().Bool(
		"mainnet", false, "use mainnet parameters",
	)
	cmd.PersistentFlags().Bool(
		"testnet", false, "use testnet3 parameters",
	)
	cmd.PersistentFlags().Bool(
		"signet", false, "use the public signet parameters",
	)
	cmd.PersistentFlags().String(
		"apiurl", "", "API URL to use (must be esplora compatible); "+
			"defaults to a public instance of the selected network",
	)
	cmd.PersistentFlags().String(
		"debuglevel", defaultDebugLevel, "log level (trace, debug, "+
			"info, warn, error)",
	)

	// Flags can also be set as TAPPY_<FLAG> environment variables.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
	}

	cmd.AddCommand(
		newInitCommand(),
		newPrintCommand(),
		newKeyCommand(),
		newImageCommand(),
		newAddrCommand(),
		newUTXOCommand(),
		newInputCommand(),
		newOutputCommand(),
		newLocktimeCommand(),
		newFeeCommand(),
		newSpendCommand(),
		newFinalCommand(),
		newHistoryCommand(),
		newDocCommand(),
	)

	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stateFile returns the path of the state file.
func stateFile() string {
	return viper.GetString("statefile")
}

// apiURL returns the Esplora URL for the selected network.
func apiURL() string {
	if url := viper.GetString("apiurl"); url != "" {
		return url
	}

	return btc.DefaultAPIURL(chainParams)
}

// loadState reads the state file.
func loadState() (*state.State, error) {
	st, err := state.Load(stateFile())
	if err != nil {
		return nil, fmt.Errorf("error loading state %s: %w",
			stateFile(), err)
	}

	return st, nil
}

// updateState loads the state, applies change and saves the state if change
// succeeded. A failed change leaves the state file untouched.
func updateState(change func(st *state.State) error) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	if err := change(st); err != nil {
		return err
	}

	return st.Save(stateFile())
}

// openHistory opens the journal that belongs to the state file.
func openHistory() (*history.Journal, error) {
	return history.Open(history.PathFor(stateFile()))
}

// printf writes a result for the operator and mirrors it to the trace log.
func printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprint(stdout, msg)
	log.Tracef("Output: %s", strings.TrimSuffix(msg, "\n"))
}

func setupLogging(level string) error {
	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	handler := logHandler
	if handler == nil {
		handler = btclog.NewDefaultHandler(os.Stderr)
	}
	newLogger := func(subsystem string) btclog.Logger {
		logger := btclog.NewSLogger(handler.SubSystem(subsystem))
		logger.SetLevel(logLevel)
		return logger
	}

	log = newLogger("TAPY")
	useLoggers(newLogger)

	return nil
}

// useLoggers hands a sub logger to every package.
func useLoggers(newLogger func(subsystem string) btclog.Logger) {
	secrets.UseLogger(newLogger(secrets.Subsystem))
	miniscript.UseLogger(newLogger(miniscript.Subsystem))
	descriptor.UseLogger(newLogger(descriptor.Subsystem))
	taptree.UseLogger(newLogger(taptree.Subsystem))
	timelock.UseLogger(newLogger(timelock.Subsystem))
	satisfy.UseLogger(newLogger(satisfy.Subsystem))
	spend.UseLogger(newLogger(spend.Subsystem))
	state.UseLogger(newLogger(state.Subsystem))
	history.UseLogger(newLogger(history.Subsystem))
	btc.UseLogger(newLogger(btc.Subsystem))
}
