package wire

import "testing"

func TestInstallationSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		rawURL       string
		socketServer string
		want         string
	}{
		{
			name:   "production installation",
			rawURL: "https://digitalcrew.teamwork.com",
			want:   ProductionSocketURL,
		},
		{
			name:   "bare production domain",
			rawURL: "https://teamwork.com",
			want:   ProductionSocketURL,
		},
		{
			name:   "development installation",
			rawURL: "http://chat.example.dev:8080",
			want:   "ws://chat.example.dev:8181",
		},
		{
			name:         "override is authoritative",
			rawURL:       "https://digitalcrew.teamwork.com",
			socketServer: "ws://127.0.0.1:9999/ws",
			want:         "ws://127.0.0.1:9999/ws",
		},
		{
			name:   "lookalike domain is not production",
			rawURL: "https://nteamwork.com",
			want:   "ws://nteamwork.com:8181",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inst, err := NewInstallation(tt.rawURL, tt.socketServer)
			if err != nil {
				t.Fatalf("NewInstallation() error = %v", err)
			}
			if got := inst.SocketURL(); got != tt.want {
				t.Errorf("SocketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewInstallationRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	if _, err := NewInstallation("digitalcrew.teamwork.com", ""); err == nil {
		t.Fatal("NewInstallation() accepted a URL without a scheme")
	}
}
