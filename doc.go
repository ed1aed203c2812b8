// Package oauth connects users' Google Analytics accounts and meters their
// use of them.
//
// A Server combines the pieces in the sub-packages: session cookies
// (session), the PKCE authorization code flow and token lifecycle (server),
// and plan limits (quota), all backed by one storage.Store. Handler exposes
// them over HTTP:
//
//	GET  /oauth/connect      start the consent flow
//	GET  /oauth/callback     complete it
//	POST /oauth/disconnect   forget and revoke the stored credential
//	GET  /usage              plan, usage and linked properties as JSON
//
// Analytics endpoints are wrapped with Handler.Metered, which authorizes and
// counts each call before the wrapped handler runs:
//
//	cfg, err := oauth.ConfigFromEnv()
//	...
//	srv, err := oauth.NewServer(provider, store, cfg)
//	h := oauth.NewHandler(srv, logger)
//	r := h.Routes()
//	r.With(h.Metered(quota.KindReports, nil)).Get("/api/report", func(w http.ResponseWriter, r *http.Request) {
//		grant, _ := oauth.GrantFromContext(r.Context())
//		// call the Analytics Data API with grant.AccessToken
//	})
package oauth
