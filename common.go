package main

import (
	"net/http"

	"github.com/urfave/cli"
	sv "github.com/webtor-io/media-relay/services/common"
	"github.com/webtor-io/media-relay/services/player"
	"github.com/webtor-io/media-relay/services/resolver"
	co "github.com/webtor-io/media-relay/services/resolver/common"
	"github.com/webtor-io/media-relay/services/resolver/strategies"
	"github.com/webtor-io/media-relay/services/ytdlp"
)

func configureResolver(f []cli.Flag) []cli.Flag {
	f = sv.RegisterFlags(f)
	f = player.RegisterFlags(f)
	f = ytdlp.RegisterFlags(f)
	return f
}

func makeResolver(c *cli.Context, cl *http.Client) (*resolver.Resolver, error) {
	var ss []co.Strategy

	// Setting Player API
	pl, err := player.New(c, cl)
	if err != nil {
		return nil, err
	}

	// Setting Player Strategy
	ss = append(ss, strategies.NewPlayer(pl))

	// Setting yt-dlp
	ex := ytdlp.New(c)

	// Setting yt-dlp Strategy
	ss = append(ss, strategies.NewYtdlp(ex, ex.DefaultOptions()))

	// Setting Resolver
	return resolver.New(ss...), nil
}
