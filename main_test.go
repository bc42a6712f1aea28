package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fansqz/sampsharp-debugger/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFlag(t *testing.T) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Version: "+Version+"\n", out.String())
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCommand()
	flags := cmd.Flags()
	require.NoError(t, flags.Parse([]string{"-p", "9000", "--connect-timeout", "5s", "--pty"}))

	from := config.Default()
	from.ListenPort = "9000"
	from.ConnectTimeout = config.Duration{Duration: 5 * time.Second}
	from.UsePTY = true
	from.LogLevel = "debug"
	to := config.Default()
	to.LogLevel = "warning"
	applyFlags(flags, from, to)

	assert.Equal(t, "9000", to.ListenPort)
	assert.Equal(t, 5*time.Second, to.ConnectTimeout.Duration)
	assert.True(t, to.UsePTY)
	// 没有在命令行中设置的参数保留配置文件的值
	assert.Equal(t, "warning", to.LogLevel)
}
