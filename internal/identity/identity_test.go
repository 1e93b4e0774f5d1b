package identity_test

import (
	"fmt"
	"strings"
	"testing"

	"ripple/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		room := fmt.Sprintf("room-%d", i)
		session := fmt.Sprintf("session-%d", i*7)
		assert.Equal(t, identity.Derive(room, session), identity.Derive(room, session))
	}
}

func TestDerive_Format(t *testing.T) {
	name := identity.Derive("3b1f0c4e-room", "a9e2-session")

	parts := strings.Split(name, " ")
	require.Len(t, parts, 2)
	assert.NotEmpty(t, parts[0])
	assert.NotEmpty(t, parts[1])
}

func TestDerive_DependsOnBothInputs(t *testing.T) {
	// 同一会话在不同房间中应大概率得到不同化名
	seen := map[string]struct{}{}
	for i := 0; i < 40; i++ {
		seen[identity.Derive(fmt.Sprintf("room-%d", i), "same-session")] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)

	seen = map[string]struct{}{}
	for i := 0; i < 40; i++ {
		seen[identity.Derive("same-room", fmt.Sprintf("session-%d", i))] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestDerive_EmptyInputs(t *testing.T) {
	assert.NotPanics(t, func() { identity.Derive("", "") })
	assert.Equal(t, identity.Derive("", ""), identity.Derive("", ""))
}
