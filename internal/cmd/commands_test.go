package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/offlinefirst/keyhole/pkg/config"
	"github.com/offlinefirst/keyhole/pkg/control"
	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/routing"
)

type fakeClient struct {
	sent       []string
	settings   []control.SettingsRequest
	status     routing.Status
	onboarding routing.OnboardingResult
}

func (f *fakeClient) Send(_ context.Context, command string) (control.CommandResponse, error) {
	f.sent = append(f.sent, command)
	return control.CommandResponse{Command: command, Result: "block"}, nil
}

func (f *fakeClient) Status(context.Context) (routing.Status, error) { return f.status, nil }

func (f *fakeClient) UpdateSettings(_ context.Context, req control.SettingsRequest) (routing.Status, error) {
	f.settings = append(f.settings, req)
	return f.status, nil
}

func (f *fakeClient) ContinueOnboarding(context.Context) (routing.OnboardingResult, error) {
	return f.onboarding, nil
}

func (f *fakeClient) Follow(ctx context.Context, fn func(routing.Status)) error {
	fn(f.status)
	return context.Canceled
}

func newTestRoot(t *testing.T, client *fakeClient) (*RootCommand, *bytes.Buffer) {
	t.Helper()
	orig := dialControl
	dialControl = func(addr string) (controlClient, error) {
		if addr != config.Default().Control.Listen {
			t.Errorf("dialled unexpected address %q", addr)
		}
		return client, nil
	}
	t.Cleanup(func() { dialControl = orig })

	rc := NewRootCommand()
	rc.appCtx = &AppContext{Config: config.Default(), Logger: newTestLogger()}
	var stdout bytes.Buffer
	rc.stdout = &stdout
	rc.stderr = io.Discard
	return rc, &stdout
}

func TestSendCommand(t *testing.T) {
	client := &fakeClient{}
	rc, stdout := newTestRoot(t, client)

	if err := rc.Execute([]string{"send", "next-track"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0] != "next-track" {
		t.Fatalf("unexpected sent commands: %v", client.sent)
	}
	if got := stdout.String(); got != "next-track: block\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestSendRejectsUnknownCommandLocally(t *testing.T) {
	client := &fakeClient{}
	rc, _ := newTestRoot(t, client)

	if err := rc.Execute([]string{"send", "shuffle"}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if len(client.sent) != 0 {
		t.Fatalf("unknown command reached the daemon: %v", client.sent)
	}
}

func TestSetCommandSendsOnlyChangedFields(t *testing.T) {
	client := &fakeClient{}
	rc, _ := newTestRoot(t, client)

	if err := rc.Execute([]string{"set", "--policy", "launch", "--enabled=false"}); err != nil {
		t.Fatalf("set returned error: %v", err)
	}
	if len(client.settings) != 1 {
		t.Fatalf("expected one settings request, got %d", len(client.settings))
	}
	req := client.settings[0]
	if req.Enabled == nil || *req.Enabled {
		t.Fatalf("expected enabled=false, got %v", req.Enabled)
	}
	if req.Policy == nil || *req.Policy != routing.PolicyLaunch {
		t.Fatalf("expected launch policy, got %v", req.Policy)
	}
	if req.PreferredTarget != nil || req.LogLevel != nil {
		t.Fatalf("unexpected fields set: %+v", req)
	}
}

func TestSetCommandRequiresAChange(t *testing.T) {
	client := &fakeClient{}
	rc, _ := newTestRoot(t, client)

	if err := rc.Execute([]string{"set"}); err == nil {
		t.Fatalf("expected error when no flags are passed")
	}
	if len(client.settings) != 0 {
		t.Fatalf("empty update reached the daemon")
	}
}

func TestStatusCommandPrintsTargets(t *testing.T) {
	client := &fakeClient{status: routing.Status{
		Enabled:         true,
		Interceptor:     "running",
		Policy:          routing.PolicyPropagate,
		PreferredTarget: spotifyID,
		Targets: []routing.TargetStatus{
			{BundleID: "com.apple.Music", Name: "Music", Installed: true, State: "not_running"},
			{BundleID: spotifyID, Name: "Spotify", Installed: true, State: "running_granted"},
			{BundleID: "org.cogx.cog", Name: "Cog"},
		},
	}}
	rc, stdout := newTestRoot(t, client)

	if err := rc.Execute([]string{"status"}); err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{
		"preferred: com.spotify.client\n",
		"Spotify (com.spotify.client): running_granted",
		"Cog (org.cogx.cog): not installed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}

func TestStatusFollowEndsCleanlyOnCancel(t *testing.T) {
	client := &fakeClient{status: routing.Status{Enabled: true}}
	rc, stdout := newTestRoot(t, client)

	if err := rc.Execute([]string{"status", "--follow"}); err != nil {
		t.Fatalf("status --follow returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), "enabled: true") {
		t.Fatalf("expected streamed status, got %q", stdout.String())
	}
}

func TestOnboardCommand(t *testing.T) {
	cases := []struct {
		name   string
		result routing.OnboardingResult
		want   string
	}{
		{name: "not ready", result: routing.OnboardingResult{}, want: "Not ready"},
		{name: "auto selected", result: routing.OnboardingResult{Ready: true, PreferredTarget: spotifyID, AutoSelected: true}, want: "Preferred player: com.spotify.client (selected automatically)"},
		{name: "kept", result: routing.OnboardingResult{Ready: true, PreferredTarget: spotifyID}, want: "Preferred player: com.spotify.client\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc, stdout := newTestRoot(t, &fakeClient{onboarding: tc.result})
			if err := rc.Execute([]string{"onboard"}); err != nil {
				t.Fatalf("onboard returned error: %v", err)
			}
			if !strings.Contains(stdout.String(), tc.want) {
				t.Fatalf("expected %q in output %q", tc.want, stdout.String())
			}
		})
	}
}

type mapProber map[string]permissions.Access

func (m mapProber) Automation(_ context.Context, id string, _ bool) permissions.Access {
	return m[id]
}
func (mapProber) Accessibility() bool { return true }

func TestRunDoctorReportsEveryTarget(t *testing.T) {
	opts := doctorOptions{
		Targets: []string{"com.apple.Music", spotifyID, "org.cogx.cog"},
		Prober: mapProber{
			"com.apple.Music": permissions.AccessDenied,
			spotifyID:         permissions.AccessAvailable,
		},
		Lookup: func(key string) (string, bool) {
			if key == "KEYHOLE_ACCESSIBILITY" {
				return "granted", true
			}
			return "", false
		},
		Locator: func(_ context.Context, id string) (string, bool) {
			return "/Applications/x.app", id != "org.cogx.cog"
		},
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
	}

	checks := runDoctor(context.Background(), opts)
	got := make(map[string]doctorCheck, len(checks))
	for _, c := range checks {
		got[c.Name] = c
	}

	want := map[string]string{
		"osascript":     "missing",
		"accessibility": string(permissions.StatusGranted),
		"Music":         string(permissions.StatusDenied),
		"Spotify":       string(permissions.StatusGranted),
		"Cog":           "not_installed",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d checks, got %+v", len(want), checks)
	}
	for name, status := range want {
		if got[name].Status != status {
			t.Fatalf("%s: expected status %q, got %q", name, status, got[name].Status)
		}
	}
	if got["Music"].Guidance == "" {
		t.Fatalf("expected guidance for denied automation")
	}

	var buf bytes.Buffer
	printDoctor(&buf, checks)
	if !strings.Contains(buf.String(), "hint: ") {
		t.Fatalf("expected hints in doctor output, got %q", buf.String())
	}
}

func TestPrintTargets(t *testing.T) {
	locate := func(_ context.Context, id string) (string, bool) {
		if id == spotifyID {
			return "/Applications/Spotify.app", true
		}
		return "", false
	}

	var buf bytes.Buffer
	if err := printTargets(context.Background(), &buf, []string{spotifyID, "com.apple.Music"}, locate); err != nil {
		t.Fatalf("printTargets returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "1. Spotify") || !strings.HasSuffix(lines[0], "/Applications/Spotify.app") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "not installed") {
		t.Fatalf("unexpected second line %q", lines[1])
	}

	if err := printTargets(context.Background(), io.Discard, []string{"com.example.unknown"}, locate); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}
