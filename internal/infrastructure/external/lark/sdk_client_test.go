package lark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{AppID: "cli_x"}.Enabled())
	assert.True(t, Config{AppID: "cli_x", AppSecret: "s"}.Enabled())
}

func TestNewSDKClient(t *testing.T) {
	c := NewSDKClient(Config{AppID: "cli_x", AppSecret: "s", BaseURL: "https://open.feishu.cn"}, zap.NewNop())
	require.NotNil(t, c.GetClient())
	assert.Equal(t, "cli_x", c.GetAppID())
}

func TestSDKLogger_ForwardsToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := sdkLogger{logger: zap.New(core)}
	ctx := context.Background()

	l.Debug(ctx, "token ", "refreshed")
	l.Info(ctx, "request ", 3)
	l.Warn(ctx, "slow")
	l.Error(ctx, "failed")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "token refreshed", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "request 3", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}
