/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/choicebox/games/choice"
)

type avatarResponse struct {
	Avatar string `json:"avatar"`
}

// serveAvatarUpload accepts a multipart "avatar" file and answers with the
// data URL the client stores on the player or card.
func serveAvatarUpload(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		securityHeaders(cfg, w)

		// Room for the multipart framing around the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, cfg.avatarMaxSize+64<<10)

		file, header, err := r.FormFile("avatar")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Image is too large.", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Missing avatar file.", http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > cfg.avatarMaxSize {
			http.Error(w, "Image is too large (limit "+humanReadableSize(cfg.avatarMaxSize)+").", http.StatusRequestEntityTooLarge)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Unable to read avatar file.", http.StatusBadRequest)
			return
		}

		avatar, err := choice.EncodeAvatar(header.Header.Get("Content-Type"), data)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, choice.ErrNotImage) {
				status = http.StatusUnsupportedMediaType
			}
			http.Error(w, warningText(err), status)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")

		if err := json.NewEncoder(w).Encode(avatarResponse{Avatar: avatar}); err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Encoded avatar (%s) for %s in %s",
			humanReadableSize(int64(len(data))),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
