package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPersona(t *testing.T) {
	const persona = "be nice"

	tests := []struct {
		name string
		in   []Message
		want []Message
	}{
		{
			name: "empty",
			in:   []Message{},
			want: []Message{{Role: RoleSystem, Content: persona}},
		},
		{
			name: "nil",
			in:   nil,
			want: []Message{{Role: RoleSystem, Content: persona}},
		},
		{
			name: "prepends before user turns",
			in: []Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello"},
				{Role: RoleUser, Content: "how are you"},
			},
			want: []Message{
				{Role: RoleSystem, Content: persona},
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello"},
				{Role: RoleUser, Content: "how are you"},
			},
		},
		{
			name: "system first is kept",
			in: []Message{
				{Role: RoleSystem, Content: "custom"},
				{Role: RoleUser, Content: "hi"},
			},
			want: []Message{
				{Role: RoleSystem, Content: "custom"},
				{Role: RoleUser, Content: "hi"},
			},
		},
		{
			name: "system in the middle is kept",
			in: []Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleSystem, Content: "custom"},
				{Role: RoleAssistant, Content: "yo"},
			},
			want: []Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleSystem, Content: "custom"},
				{Role: RoleAssistant, Content: "yo"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithPersona(tt.in, persona))
		})
	}
}

func TestWithPersona_DoesNotMutateInput(t *testing.T) {
	in := make([]Message, 1, 8)
	in[0] = Message{Role: RoleUser, Content: "hi"}

	out := WithPersona(in, "p")

	require.Len(t, out, 2)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, in)
}

func TestWithPersona_Idempotent(t *testing.T) {
	in := []Message{{Role: RoleUser, Content: "hi"}}

	once := WithPersona(in, "p")
	twice := WithPersona(once, "p")

	assert.Equal(t, once, twice)
	systems := 0
	for _, m := range twice {
		if m.Role == RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}
