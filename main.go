package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "github.com/leeineian/lounge/home"
	_ "github.com/leeineian/lounge/proc"
	"github.com/leeineian/lounge/sys"
)

const pidPath = ".bot.pid"

func main() {
	// LogFatal panics so defers run
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	flag.Parse()

	sys.InitLogger(*silent, true)

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}

	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal("Failed to initialize database: %v", err)
	}
	defer sys.CloseDatabase()

	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())

	lock, err := lockPID(pidPath)
	if err != nil {
		sys.LogFatal("Failed to lock PID file: %v", err)
	}
	defer lock.Release()

	if err := run(cfg, *silent, *skipReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}

	if sys.RestartRequested {
		lock.Release()
		sys.CloseDatabase()
		if err := reexec(); err != nil {
			sys.LogFatal("Failed to re-execute: %v", err)
		}
	}
}

func run(cfg *sys.Config, silent, skipReg bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sys.SetAppContext(ctx)

	client, err := sys.CreateClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	if skipReg {
		sys.LogInfo("Skipping command registration as requested.")
	} else if err := sys.SyncCommands(ctx, client, cfg.GuildID); err != nil {
		sys.LogError(sys.MsgBotRegisterFail, err)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	sys.LogInfo("Shutting down all daemons...")
	sys.ShutdownDaemons()

	name := sys.GetProjectName()
	if self, ok := client.Caches.SelfUser(); ok {
		name = self.Username
	}
	sys.LogInfo(sys.MsgBotShutdown, name)
	return nil
}

// reexec replaces this process with a fresh copy. Commands were synced by the
// current run, so the new one skips registration.
func reexec() error {
	sys.LogInfo("Self-restarting process...")
	args := os.Args
	if !slices.Contains(args, "-skip-reg") {
		args = append(args, "-skip-reg")
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return syscall.Exec(exe, args, os.Environ())
}

// pidLock is an exclusive flock on the PID file. Only one bot runs per directory.
type pidLock struct {
	f    *os.File
	path string
}

// lockPID takes the lock, asking a previous holder to exit first and killing
// it if it does not.
func lockPID(path string) (*pidLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			_ = f.Close()
			return nil, err
		}
		evictHolder(f)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()
	return &pidLock{f: f, path: path}, nil
}

// evictHolder terminates the process whose PID is written in f.
func evictHolder(f *os.File) {
	var pid int
	_, _ = f.Seek(0, 0)
	if _, err := fmt.Fscanf(f, "%d", &pid); err != nil || pid == os.Getpid() {
		time.Sleep(100 * time.Millisecond)
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		time.Sleep(100 * time.Millisecond)
		return
	}

	sys.LogInfo(sys.MsgBotKillingOld, pid)
	_ = proc.Signal(syscall.SIGTERM)
	if !exited(proc, 5*time.Second) {
		sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", pid)
		_ = proc.Signal(syscall.SIGKILL)
		if !exited(proc, 2*time.Second) {
			sys.LogWarn("Process %d still exists after SIGKILL", pid)
		}
	}
	sys.LogInfo(sys.MsgBotOldTerminated)
}

func exited(proc *os.Process, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// Release unlocks and removes the PID file. Calling it twice is safe.
func (l *pidLock) Release() {
	if l.f == nil {
		return
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
	_ = os.Remove(l.path)
	l.f = nil
}
