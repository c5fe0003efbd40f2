package main

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts the serve loop to the system service manager.
type program struct {
	cfgPath string
	cancel  context.CancelFunc
	done    chan error
}

// Start implements service.Interface. The service manager expects it to
// return promptly, so the serve loop runs in its own goroutine.
func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- runServe(ctx, p.cfgPath)
	}()
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func newService(cfgPath string) (service.Service, error) {
	svcConfig := &service.Config{
		Name:        "braid",
		DisplayName: "braid session engine",
		Description: "Branching conversation session engine",
		Arguments:   []string{"service", "run", "--config", cfgPath},
	}
	return service.New(&program{cfgPath: cfgPath}, svcConfig)
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run braid under the system service manager",
	}

	var cfgPath string
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")

	resolvePath := func() (string, error) {
		if cfgPath != "" {
			return cfgPath, nil
		}
		return resolveConfigPath()
	}

	action := func(name string, fn func(service.Service) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("%s the system service", name),
			RunE: func(*cobra.Command, []string) error {
				path, err := resolvePath()
				if err != nil {
					return err
				}
				svc, err := newService(path)
				if err != nil {
					return err
				}
				return fn(svc)
			},
		}
	}

	cmd.AddCommand(
		action("install", func(s service.Service) error { return s.Install() }),
		action("uninstall", func(s service.Service) error { return s.Uninstall() }),
		action("start", func(s service.Service) error { return s.Start() }),
		action("stop", func(s service.Service) error { return s.Stop() }),
		action("run", func(s service.Service) error { return s.Run() }),
	)
	return cmd
}
