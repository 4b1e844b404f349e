package protocols

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"remotefs/config"
)

func TestResolveAgent(t *testing.T) {
	t.Setenv("REMOTEFS_TEST_AGENT", "/tmp/agent.sock")

	sock, err := resolveAgent("$REMOTEFS_TEST_AGENT")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/agent.sock", sock)

	sock, err = resolveAgent("/run/agent.sock")
	require.NoError(t, err)
	assert.Equal(t, "/run/agent.sock", sock)

	_, err = resolveAgent("$REMOTEFS_TEST_UNSET_AGENT")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSFTPAuthPromptsOnlyWhenNothingConfigured(t *testing.T) {
	var prompts []string
	prompt := PromptFunc(func(_ context.Context, text string) (string, bool) {
		prompts = append(prompts, text)
		return "typed", true
	})
	d := NewSFTPDialer(prompt, nil, zaptest.NewLogger(t))

	r := &config.Remote{Name: "box", Scheme: config.SchemeSFTP, Host: "h"}
	methods, agentConn, err := d.authMethods(context.Background(), r)
	require.NoError(t, err)
	assert.Nil(t, agentConn)
	assert.Len(t, methods, 1)
	assert.Equal(t, []string{"Enter your password"}, prompts)
	assert.Equal(t, "typed", r.Password)

	prompts = nil
	r = &config.Remote{Name: "box", Scheme: config.SchemeSFTP, Host: "h", Password: "pw", InteractiveAuth: true}
	methods, _, err = d.authMethods(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, methods, 2)
	assert.Empty(t, prompts)
}

func TestDialersFailWithoutPassword(t *testing.T) {
	ctx := context.Background()

	_, err := NewSFTPDialer(NoPrompt, nil, nil).Dial(ctx, &config.Remote{Name: "box", Scheme: config.SchemeSFTP, Host: "h"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewFTPDialer(nil, nil, nil).Dial(ctx, &config.Remote{Name: "mirror", Scheme: config.SchemeFTP, Host: "h"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewSFTPDialer(NoPrompt, nil, nil).Dial(ctx, &config.Remote{
		Name: "box", Scheme: config.SchemeSFTP, Host: "h", Agent: "$REMOTEFS_TEST_UNSET_AGENT",
	})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestHostKeyCallback(t *testing.T) {
	cb, err := hostKeyCallback("")
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = hostKeyCallback(t.TempDir() + "/missing_known_hosts")
	assert.ErrorIs(t, err, ErrConfiguration)
}
