package authclient

import (
	"io"
	"net/http"
)

type decision int

const (
	decideProceed decision = iota
	decideRetryWithToken
	decideFail
)

// decide is the retry policy: retry a 401 exactly once per request, pass
// everything else through.
func decide(status, priorAttempts int) decision {
	if status != http.StatusUnauthorized {
		return decideProceed
	}
	if priorAttempts > 0 {
		return decideFail
	}
	return decideRetryWithToken
}

// Transport attaches the cached access token to outgoing requests and, on a
// 401, obtains a fresh token through the coordinator and retries the
// original request once.
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator

	// OnAuthFailure is invoked when a refresh fails, i.e. the session is
	// unrecoverable and the application should return to a logged-out
	// state. Optional.
	OnAuthFailure func()
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.Coordinator.Current()
	resp, err := t.send(req, sent)
	if err != nil {
		return nil, err
	}

	for attempts := 0; ; attempts++ {
		switch decide(resp.StatusCode, attempts) {
		case decideProceed, decideFail:
			return resp, nil
		case decideRetryWithToken:
		}

		// A request with an unreplayable body cannot be retried.
		if req.Body != nil && req.GetBody == nil {
			return resp, nil
		}

		// EnsureFresh returns without a network call when the cache already
		// moved past the token this request carried; a 401 against a stale
		// token only warrants a retry, not another refresh.
		token, refreshErr := t.Coordinator.EnsureFresh(req.Context(), sent)
		if refreshErr != nil {
			if t.OnAuthFailure != nil {
				t.OnAuthFailure()
			}
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		sent = token
		resp, err = t.send(req, token)
		if err != nil {
			return nil, err
		}
	}
}

func (t *Transport) send(req *http.Request, token string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	if token != "" {
		clone.Header.Set("Authorization", "Bearer "+token)
	} else {
		clone.Header.Del("Authorization")
	}
	return t.base().RoundTrip(clone)
}
