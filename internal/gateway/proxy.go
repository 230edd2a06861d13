package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/logger"
)

// strippedResponseHeaders are never relayed back to public clients.
var strippedResponseHeaders = []string{
	"Content-Security-Policy-Report-Only",
}

// newProxy builds the reverse proxy of one service.
func (g *Gate) newProxy(svc domain.Service) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(svc.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target of %s: %w", svc.ID, err)
	}
	publicHost := g.catalog.Hosts().PublicHost(svc.ID)

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if xff := pr.In.Header.Values("X-Forwarded-For"); len(xff) > 0 {
				pr.Out.Header["X-Forwarded-For"] = append([]string(nil), xff...)
			}
			pr.SetXForwarded()
			pr.Out.Header.Set("X-Forwarded-Host", publicHost)
			pr.Out.Header.Set("X-Forwarded-Proto", "https")
			pr.Out.Header.Del("Content-Length")
		},
		Transport:     g.transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			for _, h := range strippedResponseHeaders {
				resp.Header.Del(h)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
				g.logger.Debug("client went away before upstream answered",
					logger.String("service", svc.ID))
				return
			}
			g.metrics.ShareUpstreamErrorsTotal.Inc()
			g.logger.Warn("upstream error",
				logger.String("service", svc.ID),
				logger.String("target", svc.Target),
				logger.Error(err))
			writeText(w, http.StatusBadGateway, "upstream error: "+err.Error())
		},
	}, nil
}
