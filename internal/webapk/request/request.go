// Package request serializes WebAPK update requests in protobuf wire format.
// The installer owns the schema; field numbers below must stay stable.
package request

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

// Top-level field numbers.
const (
	fieldPackageName           protowire.Number = 1
	fieldVersionCode           protowire.Number = 2
	fieldManifestURL           protowire.Number = 3
	fieldStartURL              protowire.Number = 4
	fieldScope                 protowire.Number = 5
	fieldName                  protowire.Number = 6
	fieldShortName             protowire.Number = 7
	fieldPrimaryIconURL        protowire.Number = 8
	fieldPrimaryIcon           protowire.Number = 9
	fieldSecondaryIconURL      protowire.Number = 10
	fieldSecondaryIcon         protowire.Number = 11
	fieldIsPrimaryIconMaskable protowire.Number = 12
	fieldDisplayMode           protowire.Number = 13
	fieldOrientation           protowire.Number = 14
	fieldThemeColor            protowire.Number = 15
	fieldBackgroundColor       protowire.Number = 16
	fieldIcon                  protowire.Number = 17
	fieldShareTarget           protowire.Number = 18
	fieldShortcut              protowire.Number = 19
	fieldIsManifestStale       protowire.Number = 20
	fieldUpdateReason          protowire.Number = 21
	fieldShellVersion          protowire.Number = 22
)

// Nested message field numbers.
const (
	iconURL  protowire.Number = 1
	iconHash protowire.Number = 2

	shareAction      protowire.Number = 1
	shareParamTitle  protowire.Number = 2
	shareParamText   protowire.Number = 3
	shareIsPost      protowire.Number = 4
	shareIsMultipart protowire.Number = 5
	shareFile        protowire.Number = 6

	fileName   protowire.Number = 1
	fileAccept protowire.Number = 2

	shortcutName      protowire.Number = 1
	shortcutShortName protowire.Number = 2
	shortcutLaunchURL protowire.Number = 3
	shortcutIconURL   protowire.Number = 4
	shortcutIconHash  protowire.Number = 5
)

// UpdateRequest is everything the installer needs to rebuild a WebAPK.
type UpdateRequest struct {
	PackageName  string
	VersionCode  int
	ShellVersion int
	ManifestURL  string

	Snapshot model.ManifestSnapshot

	PrimaryIconURL   string
	PrimaryIcon      []byte
	SecondaryIconURL string
	SecondaryIcon    []byte

	// IsManifestStale is set when the request was built from installed
	// metadata because no fresh manifest was available.
	IsManifestStale bool
	Reason          model.UpdateReason
}

// Build assembles a request. A nil fetched result means the installed
// snapshot is resent and flagged stale.
func Build(app *model.InstalledApp, fetched *model.FetchResult, reason model.UpdateReason) *UpdateRequest {
	req := &UpdateRequest{
		PackageName:  app.PackageName,
		VersionCode:  app.VersionCode,
		ShellVersion: app.ShellVersion,
		ManifestURL:  app.ManifestURL,
		Reason:       reason,
	}
	if fetched == nil || fetched.Snapshot == nil {
		req.Snapshot = app.Snapshot
		req.PrimaryIconURL = app.PrimaryIconURL
		req.SecondaryIconURL = app.SecondaryIconURL
		req.IsManifestStale = true
		return req
	}

	req.Snapshot = *fetched.Snapshot
	if req.Snapshot.Scope == "" {
		req.Snapshot.Scope = model.DefaultScope(req.Snapshot.StartURL)
	}
	req.PrimaryIconURL = fetched.PrimaryIconURL
	req.PrimaryIcon = fetched.PrimaryIcon
	req.SecondaryIconURL = fetched.SecondaryIconURL
	req.SecondaryIcon = fetched.SecondaryIcon
	return req
}

// Encode serializes r. Icon entries are sorted by URL so equal requests
// encode to equal bytes.
func Encode(r *UpdateRequest) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil update request")
	}
	if r.PackageName == "" {
		return nil, errors.New("update request has no package name")
	}

	s := &r.Snapshot
	var b []byte
	b = appendString(b, fieldPackageName, r.PackageName)
	b = appendVarint(b, fieldVersionCode, uint64(r.VersionCode))
	b = appendString(b, fieldManifestURL, r.ManifestURL)
	b = appendString(b, fieldStartURL, s.StartURL)
	b = appendString(b, fieldScope, s.Scope)
	b = appendString(b, fieldName, s.Name)
	b = appendString(b, fieldShortName, s.ShortName)
	b = appendString(b, fieldPrimaryIconURL, r.PrimaryIconURL)
	b = appendBytes(b, fieldPrimaryIcon, r.PrimaryIcon)
	b = appendString(b, fieldSecondaryIconURL, r.SecondaryIconURL)
	b = appendBytes(b, fieldSecondaryIcon, r.SecondaryIcon)
	b = appendBool(b, fieldIsPrimaryIconMaskable, s.IsPrimaryIconMaskable)
	b = appendVarint(b, fieldDisplayMode, uint64(s.DisplayMode))
	b = appendVarint(b, fieldOrientation, uint64(s.Orientation))
	b = appendFixed64(b, fieldThemeColor, uint64(s.ThemeColor))
	b = appendFixed64(b, fieldBackgroundColor, uint64(s.BackgroundColor))

	urls := make([]string, 0, len(s.IconURLToHash))
	for u := range s.IconURLToHash {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		var icon []byte
		icon = appendString(icon, iconURL, u)
		icon = appendString(icon, iconHash, s.IconURLToHash[u])
		b = appendMessage(b, fieldIcon, icon)
	}

	if st := s.ShareTarget; st != nil {
		var msg []byte
		msg = appendString(msg, shareAction, st.Action)
		msg = appendString(msg, shareParamTitle, st.ParamTitle)
		msg = appendString(msg, shareParamText, st.ParamText)
		msg = appendBool(msg, shareIsPost, st.IsPost)
		msg = appendBool(msg, shareIsMultipart, st.IsMultipart)
		for i, name := range st.FileNames {
			var file []byte
			file = appendString(file, fileName, name)
			if i < len(st.FileAccepts) {
				for _, a := range st.FileAccepts[i] {
					file = protowire.AppendTag(file, fileAccept, protowire.BytesType)
					file = protowire.AppendString(file, a)
				}
			}
			msg = appendMessage(msg, shareFile, file)
		}
		// An empty share target must still be distinguishable from none.
		b = protowire.AppendTag(b, fieldShareTarget, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	for _, sc := range s.Shortcuts {
		var msg []byte
		msg = appendString(msg, shortcutName, sc.Name)
		msg = appendString(msg, shortcutShortName, sc.ShortName)
		msg = appendString(msg, shortcutLaunchURL, sc.LaunchURL)
		msg = appendString(msg, shortcutIconURL, sc.IconURL)
		msg = appendString(msg, shortcutIconHash, sc.IconHash)
		b = protowire.AppendTag(b, fieldShortcut, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	b = appendBool(b, fieldIsManifestStale, r.IsManifestStale)
	b = appendVarint(b, fieldUpdateReason, uint64(r.Reason))
	b = appendVarint(b, fieldShellVersion, uint64(r.ShellVersion))
	return b, nil
}

// Decode parses bytes produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (*UpdateRequest, error) {
	r := &UpdateRequest{}
	s := &r.Snapshot
	s.IconURLToHash = map[string]string{}
	s.ThemeColor = model.ColorInvalidOrMissing
	s.BackgroundColor = model.ColorInvalidOrMissing

	err := walk(b, func(num protowire.Number, typ protowire.Type, v value) error {
		switch num {
		case fieldPackageName:
			r.PackageName = string(v.bytes)
		case fieldVersionCode:
			r.VersionCode = int(v.varint)
		case fieldManifestURL:
			r.ManifestURL = string(v.bytes)
		case fieldStartURL:
			s.StartURL = string(v.bytes)
		case fieldScope:
			s.Scope = string(v.bytes)
		case fieldName:
			s.Name = string(v.bytes)
		case fieldShortName:
			s.ShortName = string(v.bytes)
		case fieldPrimaryIconURL:
			r.PrimaryIconURL = string(v.bytes)
		case fieldPrimaryIcon:
			r.PrimaryIcon = append([]byte(nil), v.bytes...)
		case fieldSecondaryIconURL:
			r.SecondaryIconURL = string(v.bytes)
		case fieldSecondaryIcon:
			r.SecondaryIcon = append([]byte(nil), v.bytes...)
		case fieldIsPrimaryIconMaskable:
			s.IsPrimaryIconMaskable = v.varint != 0
		case fieldDisplayMode:
			s.DisplayMode = model.DisplayMode(v.varint)
		case fieldOrientation:
			s.Orientation = model.Orientation(v.varint)
		case fieldThemeColor:
			s.ThemeColor = int64(v.fixed)
		case fieldBackgroundColor:
			s.BackgroundColor = int64(v.fixed)
		case fieldIcon:
			var u, h string
			if err := walk(v.bytes, func(n protowire.Number, _ protowire.Type, iv value) error {
				switch n {
				case iconURL:
					u = string(iv.bytes)
				case iconHash:
					h = string(iv.bytes)
				}
				return nil
			}); err != nil {
				return fmt.Errorf("icon: %w", err)
			}
			s.IconURLToHash[u] = h
		case fieldShareTarget:
			st, err := decodeShareTarget(v.bytes)
			if err != nil {
				return fmt.Errorf("share target: %w", err)
			}
			s.ShareTarget = st
		case fieldShortcut:
			var sc model.Shortcut
			if err := walk(v.bytes, func(n protowire.Number, _ protowire.Type, sv value) error {
				switch n {
				case shortcutName:
					sc.Name = string(sv.bytes)
				case shortcutShortName:
					sc.ShortName = string(sv.bytes)
				case shortcutLaunchURL:
					sc.LaunchURL = string(sv.bytes)
				case shortcutIconURL:
					sc.IconURL = string(sv.bytes)
				case shortcutIconHash:
					sc.IconHash = string(sv.bytes)
				}
				return nil
			}); err != nil {
				return fmt.Errorf("shortcut: %w", err)
			}
			s.Shortcuts = append(s.Shortcuts, sc)
		case fieldIsManifestStale:
			r.IsManifestStale = v.varint != 0
		case fieldUpdateReason:
			r.Reason = model.UpdateReason(v.varint)
		case fieldShellVersion:
			r.ShellVersion = int(v.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func decodeShareTarget(b []byte) (*model.ShareTarget, error) {
	st := &model.ShareTarget{}
	err := walk(b, func(n protowire.Number, _ protowire.Type, v value) error {
		switch n {
		case shareAction:
			st.Action = string(v.bytes)
		case shareParamTitle:
			st.ParamTitle = string(v.bytes)
		case shareParamText:
			st.ParamText = string(v.bytes)
		case shareIsPost:
			st.IsPost = v.varint != 0
		case shareIsMultipart:
			st.IsMultipart = v.varint != 0
		case shareFile:
			var name string
			var accepts []string
			if err := walk(v.bytes, func(fn protowire.Number, _ protowire.Type, fv value) error {
				switch fn {
				case fileName:
					name = string(fv.bytes)
				case fileAccept:
					accepts = append(accepts, string(fv.bytes))
				}
				return nil
			}); err != nil {
				return err
			}
			st.FileNames = append(st.FileNames, name)
			st.FileAccepts = append(st.FileAccepts, accepts)
		}
		return nil
	})
	return st, err
}

type value struct {
	varint uint64
	fixed  uint64
	bytes  []byte
}

func walk(b []byte, fn func(protowire.Number, protowire.Type, value) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v value
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFixed64(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}
