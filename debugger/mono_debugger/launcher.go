package mono_debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/creack/pty"
	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/fansqz/sampsharp-debugger/utils"
	"github.com/fansqz/sampsharp-debugger/utils/gosync"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const (
	// DebuggerAddressEnv 目标进程中调试代理监听的地址
	DebuggerAddressEnv = "SAMPSHARP_DEBUGGER_ADDRESS"
	// GamemodeEnv 目标进程加载的游戏模式
	GamemodeEnv = "SAMPSHARP_GAMEMODE"

	logProject = "SampSharp"
)

// DefaultServerExecutable 当前平台的服务器程序名称
func DefaultServerExecutable() string {
	if runtime.GOOS == "windows" {
		return "samp-server.exe"
	}
	return "samp-server"
}

// FindServerExecutable 从dir开始逐级向上查找服务器程序
func FindServerExecutable(dir string, name string) (string, error) {
	if name == "" {
		name = DefaultServerExecutable()
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", e.ErrServerNotFound, err)
	}
	for {
		candidate := filepath.Join(dir, name)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s", e.ErrServerNotFound, name)
		}
		dir = parent
	}
}

// Launcher 目标服务器进程
// 进程在后台启动，启动完成（成功或者失败）时ready被关闭
type Launcher struct {
	logSink debugger.LogSink

	lock     deadlock.Mutex
	cmd      *exec.Cmd
	address  utils.DebuggerAddress
	started  bool
	startErr error
	exitCode int

	ready  chan struct{}
	exited chan struct{}
}

func NewLauncher(logSink debugger.LogSink) *Launcher {
	return &Launcher{
		logSink: logSink,
		ready:   make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Start 查找服务器程序并在后台启动，找不到程序时同步返回错误
func (l *Launcher) Start(ctx context.Context, option *debugger.LaunchOption) error {
	executable, err := FindServerExecutable(option.OutputDirectory, option.ServerExecutable)
	if err != nil {
		l.log(constants.LogError, fmt.Sprintf("Could not find %s in %s or any of its parent directories.",
			serverName(option.ServerExecutable), option.OutputDirectory))
		return err
	}
	address, err := resolveAddress(option)
	if err != nil {
		l.log(constants.LogError, err.Error())
		return err
	}

	cmd := exec.Command(executable, option.Args...)
	cmd.Dir = filepath.Dir(executable)
	cmd.Env = append(os.Environ(), DebuggerAddressEnv+"="+address.String())
	if gamemode := resolveGamemode(option, cmd.Dir); gamemode != "" {
		cmd.Env = append(cmd.Env, GamemodeEnv+"="+gamemode)
	}
	for key, value := range option.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	l.lock.Lock()
	l.cmd = cmd
	l.address = address
	l.lock.Unlock()

	logrus.Infof("[Launcher] start %s, debugger address %s", executable, address)
	gosync.Go(context.Background(), func(ctx context.Context) {
		l.run(cmd, option.UsePTY)
	})
	return nil
}

func serverName(name string) string {
	if name == "" {
		return DefaultServerExecutable()
	}
	return name
}

// resolveAddress 解析调试地址，端口被占用时可以使用下一个可用端口
func resolveAddress(option *debugger.LaunchOption) (utils.DebuggerAddress, error) {
	address := utils.LoopbackAddress(utils.DefaultDebuggerPort)
	if option.DebuggerAddress != "" {
		parsed, err := utils.ParseDebuggerAddress(option.DebuggerAddress)
		if err != nil {
			return utils.DebuggerAddress{}, err
		}
		address = parsed
	}
	if option.DynamicPort && !address.IsAvailable() {
		if next, ok := address.NextAvailable(); ok {
			return next, nil
		}
		return utils.AllocateDebuggerAddress()
	}
	return address, nil
}

// resolveGamemode 没有指定游戏模式时读取server.cfg
func resolveGamemode(option *debugger.LaunchOption, serverDir string) string {
	if option.Gamemode != "" {
		return option.Gamemode
	}
	config := utils.NewServerConfig()
	if err := config.Read(filepath.Join(serverDir, utils.ServerConfigFile)); err != nil {
		logrus.Warnf("[Launcher] read server config fail, err = %v", err)
		return ""
	}
	if gamemode, ok := config.Get("gamemode"); ok {
		return gamemode
	}
	return ""
}

func (l *Launcher) run(cmd *exec.Cmd, usePTY bool) {
	defer close(l.exited)

	group := &errgroup.Group{}
	if usePTY {
		ptm, pts, err := pty.Open()
		if err != nil {
			l.finishStart(err)
			return
		}
		defer ptm.Close()
		if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
			logrus.Warnf("[Launcher] make raw fail, err = %v", err)
		}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = pts, pts, pts
		err = cmd.Start()
		_ = pts.Close()
		if err != nil {
			l.finishStart(err)
			return
		}
		group.Go(func() error { return l.pump(ptm, false) })
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			l.finishStart(err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			l.finishStart(err)
			return
		}
		if err = cmd.Start(); err != nil {
			l.finishStart(err)
			return
		}
		group.Go(func() error { return l.pump(stdout, false) })
		group.Go(func() error { return l.pump(stderr, true) })
	}
	l.finishStart(nil)

	if err := group.Wait(); err != nil {
		logrus.Warnf("[Launcher] read output fail, err = %v", err)
	}
	err := cmd.Wait()
	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		logrus.Warnf("[Launcher] wait fail, err = %v", err)
	}
	l.lock.Lock()
	l.exitCode = exitCode
	l.lock.Unlock()
	logrus.Infof("[Launcher] server exited, code = %d", exitCode)
}

func (l *Launcher) finishStart(err error) {
	l.lock.Lock()
	l.started = err == nil
	l.startErr = err
	l.lock.Unlock()
	if err != nil {
		logrus.Errorf("[Launcher] start fail, err = %v", err)
		l.log(constants.LogError, fmt.Sprintf("Failed to start the server: %v", err))
	}
	close(l.ready)
}

// pump 按行转发目标进程的输出
func (l *Launcher) pump(reader io.Reader, isError bool) error {
	severity := constants.LogInfo
	if isError {
		severity = constants.LogWarning
	}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		l.log(severity, strings.TrimRight(scanner.Text(), "\r"))
	}
	err := scanner.Err()
	// pty的另一端关闭时读取会返回EIO
	if err != nil && (errors.Is(err, os.ErrClosed) || strings.Contains(err.Error(), "input/output error")) {
		return nil
	}
	return err
}

func (l *Launcher) log(severity constants.LogSeverity, message string) {
	if l.logSink == nil {
		return
	}
	if recovered := gosync.Safe(func() {
		l.logSink.Log(debugger.LogEntry{Severity: severity, Project: logProject, Message: message})
	}); recovered != nil {
		logrus.Warnf("[Launcher] log sink panic, err = %v", recovered)
	}
}

// WaitReady 等待进程启动完成，返回启动的错误
func (l *Launcher) WaitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		l.lock.Lock()
		defer l.lock.Unlock()
		return l.startErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exited 进程退出或者启动失败时关闭
func (l *Launcher) Exited() <-chan struct{} {
	return l.exited
}

func (l *Launcher) ExitCode() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.exitCode
}

func (l *Launcher) Address() utils.DebuggerAddress {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.address
}

// Running 进程已经启动并且还没有退出
func (l *Launcher) Running() bool {
	l.lock.Lock()
	started := l.started
	l.lock.Unlock()
	if !started {
		return false
	}
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

// Kill 结束进程
func (l *Launcher) Kill() error {
	if !l.Running() {
		return e.ErrNotApplicable
	}
	l.lock.Lock()
	cmd := l.cmd
	l.lock.Unlock()
	return cmd.Process.Kill()
}
