package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gauss-ops/gs-expansion/config"
	"github.com/gauss-ops/gs-expansion/internal/expansion"
	"github.com/gauss-ops/gs-expansion/internal/installer"
	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
	gsaws "github.com/gauss-ops/gs-expansion/pkg/aws"
	"github.com/gauss-ops/gs-expansion/pkg/logger"
)

type expandFlags struct {
	plan         string
	hosts        string
	preinstalled bool
	logLevel     string
	envFile      string
	dotEnv       string

	worker bool
	tmpDir string
}

var flags expandFlags

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Install and attach new standby nodes to the cluster.",
	Long: `expand adds the new hosts of a plan as standby or cascade standby nodes.

Run as root, it checks the plan, distributes and pre-installs the database
software, then continues as the database user. Run as the database user, the
new hosts must already be installed (-L).`,
	Example: "  gs_expansion expand -X plan.yaml -h 10.0.0.3,10.0.0.4",
	RunE:    runExpand,
}

func init() {
	f := expandCmd.Flags()
	f.StringVarP(&flags.plan, "plan", "X", "", "cluster plan describing existing and new nodes")
	f.StringVarP(&flags.hosts, "hosts", "h", "", "comma separated back IPs of the new hosts, overrides newHosts of the plan")
	f.BoolVarP(&flags.preinstalled, "local", "L", false, "new hosts are already installed")
	f.StringVar(&flags.logLevel, "log-level", "", "debug, info or warn")
	f.StringVar(&flags.envFile, "env-file", "", "environment file sourced before the database tools")
	f.StringVar(&flags.dotEnv, "config", "", "optional .env file with KEY=VALUE settings")

	f.BoolVar(&flags.worker, "worker", false, "run the database user phase only")
	f.StringVar(&flags.tmpDir, "tmp-dir", "", "temp dir shared with the parent run")
	_ = f.MarkHidden("worker")
	_ = f.MarkHidden("tmp-dir")
	_ = expandCmd.MarkFlagRequired("plan")

	rootCmd.AddCommand(expandCmd)
}

func runExpand(cmd *cobra.Command, _ []string) error {
	env, err := config.AddEnv(flags.dotEnv)
	if err != nil {
		return err
	}
	if err = configureLogging(env); err != nil {
		return err
	}
	if flags.envFile != "" {
		env.EnvFile = flags.envFile
	}

	plan, err := topology.LoadPlan(flags.plan)
	if err != nil {
		return err
	}
	if flags.hosts != "" {
		if err = plan.SetNewHosts(strings.Split(flags.hosts, ",")); err != nil {
			return err
		}
	}
	if len(plan.NewHosts) == 0 {
		return errors.New("no new hosts given, use -h or newHosts in the plan")
	}

	privileged := os.Geteuid() == 0 && !flags.worker
	if !privileged {
		if err = checkDatabaseUser(plan.User); err != nil {
			return err
		}
	}

	prompter := installer.NewTerminalPrompter()

	sshUser := env.SSHUser
	if !privileged {
		sshUser = plan.User
	}
	exec := resources.NewSSHExecutor(resources.SSHConfig{
		User:     sshUser,
		KeyPath:  env.SSHKeyPath,
		Port:     env.SSHPort,
		Password: installer.Password(prompter),
	})
	defer exec.Close()

	opts := expansion.Options{
		Plan:               plan,
		Preinstalled:       flags.preinstalled,
		Privileged:         privileged,
		EnvFile:            env.EnvFile,
		TmpDir:             flags.tmpDir,
		MaxRetries:         env.MaxRetries,
		SettleDelay:        env.SettleDelay,
		PrimarySettleDelay: env.PrimarySettleDelay,
		Prompter:           prompter,
		Out:                cmd.OutOrStdout(),
	}
	if plan.Cluster.PackageSource != "" {
		client, err := gsaws.AddS3Client(env.AWSRegion)
		if err != nil {
			return err
		}
		opts.Fetcher = client
	}

	o := expansion.New(exec, opts)
	if flags.worker {
		return o.RunWorker(cmd.Context())
	}

	var runner expansion.Runner = expansion.InProcess(o.RunWorker)
	if privileged {
		runner, err = expansion.NewReexec(plan.User, func() []string {
			return workerArgs(plan, env.EnvFile, o.TmpDir())
		})
		if err != nil {
			return err
		}
	}

	return o.Expand(cmd.Context(), runner)
}

// configureLogging applies the log settings of env, with --log-level taking
// precedence. LOG_LEVEL is exported so the worker child inherits it.
func configureLogging(env *config.Env) error {
	if flags.logLevel != "" {
		env.LogLevel = strings.ToLower(strings.TrimSpace(flags.logLevel))
	}
	if err := os.Setenv("LOG_LEVEL", env.LogLevel); err != nil {
		return err
	}

	return logger.Configure(env.LogFormat, env.LogLevel)
}

// workerArgs re-creates the command line of this run for the database-user
// child, narrowed to the hosts that survived the checks. The child starts in
// the home of the user so paths are made absolute.
func workerArgs(plan *topology.Plan, envFile, tmpDir string) []string {
	args := []string{
		"expand", "--worker",
		"-X", absolute(plan.Path),
		"-h", strings.Join(plan.NewHosts, ","),
		"--env-file", envFile,
		"--tmp-dir", tmpDir,
	}
	if flags.preinstalled {
		args = append(args, "-L")
	}
	if flags.dotEnv != "" {
		args = append(args, "--config", absolute(flags.dotEnv))
	}

	return args
}

func absolute(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return p
}

func checkDatabaseUser(want string) error {
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}
	if u.Username != want {
		return fmt.Errorf("run as root or as the cluster user %s, not %s", want, u.Username)
	}

	return nil
}
