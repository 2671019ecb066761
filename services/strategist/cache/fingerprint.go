// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the content-addressed response cache with
// single-flight semantics for the strategist engine.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
)

// Fingerprint computes the deterministic cache key for a request: a
// SHA-256 over ward, depth, strategic context, the context document
// digests, and a coarse time bucket.
//
// The bucket is the request's submission time truncated to the bucket
// duration, so two equivalent queries within the same window share a key
// and the key itself rolls over as the window advances. Requester
// identity is deliberately excluded: two analysts asking the same
// question share one computation.
func Fingerprint(req datatypes.AnalysisRequest, bucket time.Duration) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", req.Ward, req.Depth, req.Context)
	for _, doc := range req.Documents {
		docSum := sha256.Sum256([]byte(doc.Text))
		fmt.Fprintf(h, "%s:%s|", doc.Source, hex.EncodeToString(docSum[:8]))
	}
	if bucket > 0 {
		io.WriteString(h, fmt.Sprintf("bucket:%d", req.SubmittedAt.UTC().Truncate(bucket).Unix()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
