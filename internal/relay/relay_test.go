package relay

import "testing"

func TestICEServersAdvertiseStunAndTurn(t *testing.T) {
	r := &Relay{port: 3478, creds: Credentials{Username: "u", Password: "p"}}

	servers := r.ICEServers("calls.example.org:8443")
	if len(servers) != 2 {
		t.Fatalf("got %d ice servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:calls.example.org:3478" {
		t.Errorf("stun url = %q", servers[0].URLs[0])
	}
	if servers[0].Username != "" {
		t.Error("stun entry must not carry credentials")
	}
	if servers[1].URLs[0] != "turn:calls.example.org:3478" {
		t.Errorf("turn url = %q", servers[1].URLs[0])
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Errorf("turn credentials not advertised: %+v", servers[1])
	}
}

func TestAuthHandlerRejectsUnknownUser(t *testing.T) {
	handler := authHandler(Credentials{Username: "u", Password: "p"}, "palaver")

	if _, ok := handler("u", "palaver", nil); !ok {
		t.Fatal("known user rejected")
	}
	if _, ok := handler("stranger", "palaver", nil); ok {
		t.Fatal("unknown user accepted")
	}
}
