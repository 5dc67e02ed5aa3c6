package agent

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			reply: `{"questions":[]}`,
			want:  `{"questions":[]}`,
		},
		{
			name:  "json fence",
			reply: "Here is the quiz:\n```json\n{\"questions\":[1]}\n```\nEnjoy!",
			want:  `{"questions":[1]}`,
		},
		{
			name:  "plain fence",
			reply: "```\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:  "prose around object",
			reply: `Sure thing. {"a":{"b":2}} Hope that helps.`,
			want:  `{"a":{"b":2}}`,
		},
		{
			name:    "no object",
			reply:   "I could not generate a quiz this time.",
			wantErr: true,
		},
		{
			name:    "empty",
			reply:   "",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.reply)
			if tc.wantErr {
				if !errors.Is(err, ErrNoJSONObject) {
					t.Fatalf("err = %v, want ErrNoJSONObject", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
