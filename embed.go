package pubdesk

import "embed"

// EmbeddedAssets contains the client scripts pubdesk serves under /public/:
// analytics.js for readers and admin-live.js for the analytics dashboard.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
