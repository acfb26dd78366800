package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli"
	cs "github.com/webtor-io/common-services"
	wip "github.com/webtor-io/media-relay/handlers/image_proxy"
	ws "github.com/webtor-io/media-relay/handlers/stream"
	ip "github.com/webtor-io/media-relay/services/image_proxy"
	"github.com/webtor-io/media-relay/services/media"
	"github.com/webtor-io/media-relay/services/relay"
	sc "github.com/webtor-io/media-relay/services/stream_cache"
	w "github.com/webtor-io/media-relay/services/web"
)

func makeServeCMD() cli.Command {
	serveCMD := cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serves web server",
		Action:  serve,
	}
	configureServe(&serveCMD)
	return serveCMD
}

func configureServe(c *cli.Command) {
	c.Flags = cs.RegisterProbeFlags(c.Flags)
	c.Flags = cs.RegisterPprofFlags(c.Flags)
	c.Flags = w.RegisterFlags(c.Flags)
	c.Flags = configureResolver(c.Flags)
	c.Flags = sc.RegisterFlags(c.Flags)
	c.Flags = relay.RegisterFlags(c.Flags)
	c.Flags = media.RegisterFlags(c.Flags)
	c.Flags = ip.RegisterFlags(c.Flags)
}

func serve(c *cli.Context) error {
	// Setting HTTP Client
	cl := http.DefaultClient

	var servers []cs.Servable
	// Setting Probe
	probe := cs.NewProbe(c)
	if probe != nil {
		servers = append(servers, probe)
		defer probe.Close()
	}

	// Setting Pprof
	pprof := cs.NewPprof(c)
	if pprof != nil {
		servers = append(servers, pprof)
		defer pprof.Close()
	}

	// Setting Gin
	r := gin.Default()
	r.RedirectTrailingSlash = false

	// Setting Web
	web, err := w.New(c, r)
	if err != nil {
		return err
	}
	servers = append(servers, web)
	defer web.Close()

	// Setting Stream Cache
	cache, err := sc.New(c)
	if err != nil {
		return err
	}

	// Setting Resolver
	res, err := makeResolver(c, cl)
	if err != nil {
		return err
	}

	// Setting Relay
	rl := relay.New(c)

	// Setting Media
	m := media.New(c, cache, res, rl)

	// Setting StreamHandler
	ws.RegisterHandler(r, m)

	// Setting ImageProxy
	ipr := ip.New(c, rl)

	// Setting ImageProxyHandler
	wip.RegisterHandler(r, ipr)

	// Setting Serve
	serve := cs.NewServe(servers...)

	// And SERVE!
	err = serve.Serve()
	return err
}
