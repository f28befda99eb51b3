package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/fleet"
)

var (
	createHost           string
	createProvider       string
	createType           string
	createCommand        string
	createArgs           []string
	createEnv            []string
	createPermissions    []string
	createSource         string
	createStartOnBoot    bool
	createInitialMessage string
	createResumeMessage  string
	createMessageDelay   int
	createConnect        bool
)

func newCreateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "create NAME -- [CMD...]",
		Short: "Register and start a new agent on an existing host",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCreate,
	}
	c.Flags().StringVar(&createHost, "host", "", "host to create the agent on (required)")
	c.Flags().StringVar(&createProvider, "provider", "", "restrict the host lookup to this provider instance")
	c.Flags().StringVar(&createType, "type", string(builtinAgentType), "registered agent type")
	c.Flags().StringVar(&createCommand, "command", "", "override the agent type's base command")
	c.Flags().StringArrayVar(&createArgs, "arg", nil, "extra cli argument, appended after the type's own (repeatable)")
	c.Flags().StringArrayVar(&createEnv, "env", nil, "KEY=VALUE environment variable (repeatable)")
	c.Flags().StringArrayVar(&createPermissions, "permission", nil, "capability token granted to the agent (repeatable)")
	c.Flags().StringVar(&createSource, "source", "", "path to copy into the agent's work dir")
	c.Flags().BoolVar(&createStartOnBoot, "start-on-boot", false, "start this agent automatically whenever its host boots")
	c.Flags().StringVar(&createInitialMessage, "initial-message", "", "message sent once, immediately after the agent's first start")
	c.Flags().StringVar(&createResumeMessage, "resume-message", "", "message sent after every subsequent start, once the delay elapses")
	c.Flags().IntVar(&createMessageDelay, "message-delay", 0, "seconds to wait before sending the resume message")
	c.Flags().BoolVar(&createConnect, "start", false, "start the agent immediately after creating it")
	_ = c.MarkFlagRequired("host")
	return c
}

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	cmdArgs := args[1:]

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	agentName, err := domain.NewAgentName(name, 0)
	if err != nil {
		return err
	}
	agentType, err := domain.NewAgentTypeName(createType)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	listed, err := a.pipeline.ListAgents(ctx, a.group, fleet.ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return err
	}

	var target *fleet.AggregatedHost
	for i := range listed.Hosts {
		h := &listed.Hosts[i]
		if string(h.Host.Name) != createHost {
			continue
		}
		if createProvider != "" && string(h.Host.Provider) != createProvider {
			continue
		}
		target = h
		break
	}
	if target == nil {
		return &errs.UserInputError{Message: fmt.Sprintf("no host named %q found", createHost), Hint: "run `mngr list` to see configured hosts"}
	}
	if target.Host.State != domain.HostRunning {
		return &errs.HostNotRunningError{HostName: createHost}
	}

	var source domain.SourceLocation
	if createSource != "" {
		source = domain.SourceLocation{Path: createSource}
	}
	workDir := ""
	if source.Path != "" {
		workDir, err = target.Host.Host.CreateAgentWorkDir(ctx, source, agentName, domain.WorkDirOptions{})
		if err != nil {
			return err
		}
	}

	envVars := make(map[string]string, len(createEnv))
	for _, kv := range createEnv {
		k, v, ok := splitKV(kv)
		if !ok {
			return &errs.UserInputError{Message: fmt.Sprintf("invalid --env value %q, expected KEY=VALUE", kv)}
		}
		envVars[k] = v
	}

	perms := make([]domain.Permission, 0, len(createPermissions))
	for _, p := range createPermissions {
		perms = append(perms, domain.Permission(p))
	}

	rec := domain.AgentRecord{
		Id:                  domain.NewAgentId(),
		Name:                agentName,
		Type:                agentType,
		WorkDir:             workDir,
		CreateTime:          time.Now(),
		Command:             domain.CommandString(createCommand),
		CliArgs:             cmdArgs,
		EnvVars:             envVars,
		Permissions:         perms,
		IsStartOnBoot:       createStartOnBoot,
		MessageDelaySeconds: createMessageDelay,
	}
	if createInitialMessage != "" {
		rec.InitialMessage = &createInitialMessage
	}
	if createResumeMessage != "" {
		rec.ResumeMessage = &createResumeMessage
	}

	created, err := target.Host.Host.CreateAgentState(rec)
	if err != nil {
		return err
	}

	if createConnect || createStartOnBoot {
		if err := target.Host.Host.StartAgents(ctx, []domain.AgentId{created.Id()}); err != nil {
			return err
		}
		if rec.InitialMessage != nil {
			conn, err := target.Host.Host.Connector()
			if err == nil {
				_ = created.SendMessage(ctx, conn, *rec.InitialMessage)
			}
		}
	}

	fmt.Printf("created agent %s (%s) on host %s\n", created.Name(), created.Id(), createHost)
	return nil
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
