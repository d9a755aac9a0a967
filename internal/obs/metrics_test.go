package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/auth/me":                     "/v1/auth/me",
		"/v1/firms":                       "/v1/firms",
		"/v1/firms/01HZX":                 "/v1/firms/:id",
		"/v1/firms/01HZX/members":         "/v1/firms/:id/members",
		"/v1/firms/01HZX/members/p1/role": "/v1/firms/:id/members/:id/role",
		"/v1/firms/01HZX/invitations":     "/v1/firms/:id/invitations",
		"/v1/forms/personal_injury":       "/v1/forms/personal_injury",
		"/v1/forms/01HZY":                 "/v1/forms/:id",
		"/v1/forms/01HZY/submit?x=1":      "/v1/forms/:id/submit",
		"/v1/forms?kind=wrongful_death":   "/v1/forms",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
