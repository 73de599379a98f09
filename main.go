package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"

	"mangamirror/config"
	"mangamirror/internal/heartbeat"
	"mangamirror/log"
	"mangamirror/scrape"
)

var configFile = flag.String("config", "config.yml", "Configuration filename")

var allowedNetworksMetrics atomic.Value

const cacheMetricsRefreshInterval = 10 * time.Second

func main() {
	flag.Parse()

	log.Infof("Loading config: %s", *configFile)
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("error while loading config: %s", err)
	}
	log.Infof("Loading config %q: successful", *configFile)

	fetcher := scrape.NewClient(cfg.Upstream)

	ua := cfg.Upstream.UserAgent
	if len(ua) == 0 {
		ua = scrape.DefaultUserAgent
	}
	monitor := heartbeat.New(cfg.HeartBeat, cfg.Upstream.BaseURL, ua)

	s, err := newServer(cfg, fetcher, monitor)
	if err != nil {
		log.Fatalf("cannot initialize server: %s", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		for range c {
			log.Infof("SIGHUP received. Going to reload config %s ...", *configFile)
			// Only `log_debug` and `server.metrics.allowed_networks`
			// take effect on reload; other sections require a restart.
			if _, err := loadConfig(); err != nil {
				log.Errorf("error while reloading config: %s", err)
				continue
			}
			log.Infof("Reloading config %s: successful", *configFile)
		}
	}()

	go func() {
		for {
			time.Sleep(cacheMetricsRefreshInterval)
			s.refreshCacheMetrics()
		}
	}()

	h := newRootHandler(s.handler(cfg.Proxy))

	if len(cfg.Server.HTTPS.ListenAddr) != 0 {
		go serveTLS(cfg.Server.HTTPS, h)
	}
	if len(cfg.Server.HTTP.ListenAddr) != 0 {
		go serve(cfg.Server.HTTP, h)
	}

	if ok, err := sdNotifyReady(); err != nil {
		log.Errorf("cannot notify systemd about readiness: %s", err)
	} else if ok {
		log.Debugf("systemd has been notified about readiness")
	}

	select {}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return nil, fmt.Errorf("can't load config %q: %s", *configFile, err)
	}
	allowedNetworksMetrics.Store(&cfg.Server.Metrics.AllowedNetworks)
	log.SetDebug(cfg.LogDebug)
	return cfg, nil
}

// newRootHandler puts /metrics in front of the API handler, since the
// metrics endpoint must bypass the API middleware chain and has its own
// network restrictions.
func newRootHandler(api http.Handler) http.Handler {
	promHandler := promhttp.Handler()
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/favicon.ico":
		case "/metrics":
			an := allowedNetworksMetrics.Load().(*config.Networks)
			if !an.Contains(r.RemoteAddr) {
				log.Errorf("connections to /metrics are not allowed from %s", r.RemoteAddr)
				rw.Header().Set("Connection", "close")
				rw.WriteHeader(http.StatusForbidden)
				return
			}
			promHandler.ServeHTTP(rw, r)
		default:
			api.ServeHTTP(rw, r)
		}
	})
}

func serveTLS(cfg config.HTTPS, h http.Handler) {
	ln, err := net.Listen("tcp4", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("cannot listen for %q: %s", cfg.ListenAddr, err)
	}
	tlsCfg := newTLSConfig(cfg)
	tln := tls.NewListener(ln, tlsCfg)
	log.Infof("Serving https on %q", cfg.ListenAddr)
	if err := listenAndServe(tln, h); err != nil {
		log.Fatalf("TLS server error on %q: %s", cfg.ListenAddr, err)
	}
}

func serve(cfg config.HTTP, h http.Handler) {
	ln, err := net.Listen("tcp4", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("cannot listen for %q: %s", cfg.ListenAddr, err)
	}
	log.Infof("Serving http on %q", cfg.ListenAddr)
	if err := listenAndServe(ln, h); err != nil {
		log.Fatalf("HTTP server error on %q: %s", cfg.ListenAddr, err)
	}
}

func newTLSConfig(cfg config.HTTPS) *tls.Config {
	tlsCfg := tls.Config{
		PreferServerCipherSuites: true,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
	}
	if len(cfg.KeyFile) > 0 && len(cfg.CertFile) > 0 {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("cannot load cert for `https.cert_file`=%q, `https.key_file`=%q: %s",
				cfg.CertFile, cfg.KeyFile, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else {
		if len(cfg.Autocert.CacheDir) > 0 {
			if err := os.MkdirAll(cfg.Autocert.CacheDir, 0700); err != nil {
				log.Fatalf("error while creating folder %q: %s", cfg.Autocert.CacheDir, err)
			}
		}
		var hp autocert.HostPolicy
		if len(cfg.Autocert.AllowedHosts) != 0 {
			allowedHosts := make(map[string]struct{}, len(cfg.Autocert.AllowedHosts))
			for _, v := range cfg.Autocert.AllowedHosts {
				allowedHosts[v] = struct{}{}
			}
			hp = func(_ context.Context, host string) error {
				if _, ok := allowedHosts[host]; ok {
					return nil
				}
				return fmt.Errorf("host %q doesn't match `allowed_hosts` configuration", host)
			}
		}
		m := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.Autocert.CacheDir),
			HostPolicy: hp,
		}
		tlsCfg.GetCertificate = m.GetCertificate
	}
	return &tlsCfg
}

func listenAndServe(ln net.Listener, h http.Handler) error {
	s := &http.Server{
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
		Handler:      h,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		IdleTimeout:  time.Minute * 10,
		ErrorLog:     log.ErrorLogger,
	}
	return s.Serve(ln)
}
