// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiwebsite/keyrelay/services/hosting"
	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/upstream"
	"github.com/spf13/cobra"
)

func runHostingTest(cmd *cobra.Command, flags *globalFlags) error {
	rt, client, err := hostingClient(flags)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := client.TestConnection(cmd.Context()); err != nil {
		return hostingError(rt, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Connection successful")
	return nil
}

func runHostingCreate(cmd *cobra.Command, flags *globalFlags, args []string) error {
	return runSubdomainChange(cmd, flags, args, "Created", (*hosting.Client).CreateSubdomain)
}

func runHostingDelete(cmd *cobra.Command, flags *globalFlags, args []string) error {
	return runSubdomainChange(cmd, flags, args, "Deleted", (*hosting.Client).DeleteSubdomain)
}

func runSubdomainChange(
	cmd *cobra.Command,
	flags *globalFlags,
	args []string,
	verb string,
	change func(*hosting.Client, context.Context, string, string) error,
) error {
	sub := strings.ToLower(args[0])
	if !datatypes.ValidSubdomain(sub) {
		return fmt.Errorf("invalid subdomain %q", args[0])
	}

	rt, client, err := hostingClient(flags)
	if err != nil {
		return err
	}
	defer rt.Close()

	root := rt.store.Snapshot().Hosting.MainDomain
	if len(args) == 2 {
		root = args[1]
	}
	root = strings.ToLower(root)
	if root == "" {
		return errors.New("no domain given and hosting.main_domain is not configured")
	}

	if err := change(client, cmd.Context(), sub, root); err != nil {
		return hostingError(rt, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s.%s\n", verb, sub, root)
	return nil
}

func hostingClient(flags *globalFlags) (*runtime, *hosting.Client, error) {
	rt, err := newRuntime(flags)
	if err != nil {
		return nil, nil, err
	}
	return rt, hosting.NewClient(upstream.NewClient(upstream.ClientOptions{}), rt.store), nil
}

// hostingError scrubs err before it reaches the terminal.
func hostingError(rt *runtime, err error) error {
	if hosting.IsNotConfigured(err) {
		return errors.New("hosting panel is not configured: set hosting.username, hosting.api_token and hosting.host")
	}
	return errors.New(rt.filter.Scrub(err.Error()))
}
