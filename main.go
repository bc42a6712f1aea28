package main

import (
	"fmt"
	"net"
	"os"

	"github.com/fansqz/sampsharp-debugger/config"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/fansqz/sampsharp-debugger/debugger/remote"
	"github.com/fansqz/sampsharp-debugger/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version 版本号
const Version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		showVersion bool
	)
	flagConfig := config.Default()
	cmd := &cobra.Command{
		Use:          "sampsharp-debugger",
		Short:        "Debug adapter for SampSharp game modes running in samp-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), flagConfig, cfg)
			if err = cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&showVersion, "version", false, "Show the version number")
	flags.StringVarP(&configPath, "config", "c", "", "Path of the toml config file")
	flags.StringVarP(&flagConfig.ListenPort, "port", "p", flagConfig.ListenPort, "TCP port to listen on")
	flags.StringVar(&flagConfig.LogFile, "log-file", flagConfig.LogFile, "Log file, empty for stderr")
	flags.StringVar(&flagConfig.LogLevel, "log-level", flagConfig.LogLevel, "Log level")
	flags.StringVar(&flagConfig.ServerExecutable, "server", flagConfig.ServerExecutable, "Name of the server executable")
	flags.StringVar(&flagConfig.DebuggerAddress, "debugger-address", flagConfig.DebuggerAddress,
		"Address the soft debugger agent listens on")
	flags.BoolVar(&flagConfig.DynamicPort, "dynamic-port", flagConfig.DynamicPort,
		"Use the next available port when the debugger port is taken")
	flags.DurationVar(&flagConfig.ConnectTimeout.Duration, "connect-timeout", flagConfig.ConnectTimeout.Duration,
		"Timeout of connecting to the debugger agent")
	flags.StringVar(&flagConfig.Gamemode, "gamemode", flagConfig.Gamemode, "Game mode entry point")
	flags.BoolVar(&flagConfig.UsePTY, "pty", flagConfig.UsePTY, "Run the server in a pseudo terminal")
	flags.BoolVar(&flagConfig.DetectDeadlocks, "detect-deadlocks", flagConfig.DetectDeadlocks,
		"Enable lock order checking")
	return cmd
}

// applyFlags 命令行中显式设置的参数覆盖配置文件
func applyFlags(flags *pflag.FlagSet, from *config.Config, to *config.Config) {
	flags.Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "port":
			to.ListenPort = from.ListenPort
		case "log-file":
			to.LogFile = from.LogFile
		case "log-level":
			to.LogLevel = from.LogLevel
		case "server":
			to.ServerExecutable = from.ServerExecutable
		case "debugger-address":
			to.DebuggerAddress = from.DebuggerAddress
		case "dynamic-port":
			to.DynamicPort = from.DynamicPort
		case "connect-timeout":
			to.ConnectTimeout = from.ConnectTimeout
		case "gamemode":
			to.Gamemode = from.Gamemode
		case "pty":
			to.UsePTY = from.UsePTY
		case "detect-deadlocks":
			to.DetectDeadlocks = from.DetectDeadlocks
		}
	})
}

// serve 监听端口，每个IDE连接一个调试会话
func serve(cfg *config.Config) error {
	SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer CloseLogger()
	utils.SetDeadlockDetection(cfg.DetectDeadlocks, 0)

	listener, err := net.Listen("tcp", ":"+cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("listen at %s: %w", cfg.ListenPort, err)
	}
	defer listener.Close()
	fmt.Printf("started listening at: %s\n", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			logrus.Errorf("accept connection fail, err = %v", err)
			continue
		}
		go handleConnection(conn, cfg, newRemoteSession)
	}
}

func newRemoteSession() debugger.RemoteSession {
	return remote.NewSession(nil)
}
