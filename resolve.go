package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/webtor-io/media-relay/services/common"
	"github.com/webtor-io/media-relay/services/expiry"
)

func makeResolveCMD() cli.Command {
	resolveCMD := cli.Command{
		Name:      "resolve",
		Aliases:   []string{"r"},
		Usage:     "Resolves media id to a source url",
		ArgsUsage: "<media id>",
		Action:    resolve,
	}
	configureResolve(&resolveCMD)
	return resolveCMD
}

func configureResolve(c *cli.Command) {
	c.Flags = append(c.Flags,
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "resolution timeout",
			Value: time.Minute,
		},
	)
	c.Flags = configureResolver(c.Flags)
}

func resolve(c *cli.Context) error {
	id := c.Args().First()
	if !common.IsValidMediaID(id) {
		return errors.Errorf("invalid media id %q", id)
	}

	// Setting HTTP Client
	cl := http.DefaultClient

	// Setting Resolver
	res, err := makeResolver(c, cl)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	r, err := res.Resolve(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("url:          %v\n", r.URL)
	fmt.Printf("content type: %v\n", r.ContentType)
	fmt.Printf("strategy:     %v\n", r.Strategy)
	if exp, ok := expiry.Extract(r.URL); ok {
		fmt.Printf("expires at:   %v\n", exp.Format(time.RFC3339))
	}
	return nil
}
