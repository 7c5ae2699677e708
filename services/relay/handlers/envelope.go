// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/gin-gonic/gin"
)

const jsonContentType = "application/json; charset=utf-8"

// unexpectedMessage is the public message for unclassified failures.
const unexpectedMessage = "An unexpected error occurred"

// marshalEnvelope encodes body, falling back to a fixed failure body if
// encoding fails. The returned status is 500 in that case.
func marshalEnvelope(status int, body any) (int, []byte) {
	b, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to encode response envelope", "error", err)
		return http.StatusInternalServerError, datatypes.FallbackBody
	}
	return status, b
}

// writeEnvelope writes body as the complete response. The body is fully
// encoded before any byte is written.
func writeEnvelope(c *gin.Context, status int, body any) {
	status, b := marshalEnvelope(status, body)
	c.Data(status, jsonContentType, b)
}

// abortEnvelope writes body and stops the handler chain.
func abortEnvelope(c *gin.Context, status int, body any) {
	writeEnvelope(c, status, body)
	c.Abort()
}

// errorEnvelope converts err into a status and caller-safe envelope.
//
// # Description
//
// Classified errors use their kind's status and error text with the fixed
// public message. The wrapped cause is appended only when expose is set,
// and always passes through filter first. Unclassified errors become a
// generic internal error.
func errorEnvelope(ctx context.Context, err error, filter extensions.MessageFilter, expose bool) (int, datatypes.ErrorResponse) {
	var re *datatypes.RelayError
	kind := datatypes.KindInternal
	public := unexpectedMessage
	var cause error = err
	if errors.As(err, &re) {
		kind = re.Kind
		public = re.Public
		cause = re.Err
	}

	message := public
	if expose && cause != nil {
		message = public + ": " + cause.Error()
	}
	if res, ferr := filter.FilterOutput(ctx, message); ferr == nil {
		message = res.Filtered
	} else {
		message = public
	}
	return kind.HTTPStatus(), datatypes.NewErrorResponse(kind.ErrorText(), message)
}

// scrubForLog returns err's text with secrets removed.
func scrubForLog(ctx context.Context, filter extensions.MessageFilter, err error) string {
	if err == nil {
		return ""
	}
	res, ferr := filter.FilterLog(ctx, err.Error())
	if ferr != nil {
		return "[unavailable]"
	}
	return res.Filtered
}
