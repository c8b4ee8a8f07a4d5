package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/i18n"
	kit "upgradebot/internal/transport"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
	"upgradebot/pkg/tgui"
)

var errNoCredentials = errors.New("no credential sets found")

// maxTokenFile caps credential file downloads.
const maxTokenFile = 1 << 20

type credentialJSON struct {
	FetchToken     string `json:"fetch_token"`
	AppTransaction string `json:"app_transaction"`
	HashParams     string `json:"hash_params"`
	HashHeaders    string `json:"hash_headers"`
	IsSandbox      bool   `json:"is_sandbox"`
}

func (c credentialJSON) usable() bool {
	return strings.TrimSpace(c.FetchToken) != "" || strings.TrimSpace(c.AppTransaction) != ""
}

func (c credentialJSON) set() dispatch.CredentialSet {
	return dispatch.CredentialSet{
		FetchToken:     strings.TrimSpace(c.FetchToken),
		AppTransaction: strings.TrimSpace(c.AppTransaction),
		HashParams:     c.HashParams,
		HashHeaders:    c.HashHeaders,
		Sandbox:        c.IsSandbox,
	}
}

// parseCredentialSets reads a JSON array of credential objects, or a single
// object, embedded anywhere in text. Entries without a fetch token or app
// transaction are skipped.
func parseCredentialSets(text string) ([]dispatch.CredentialSet, error) {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return nil, errNoCredentials
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return nil, errNoCredentials
	}
	raw := []byte(text[start : end+1])

	var items []credentialJSON
	if closer == "]" {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("parse credential array: %w", err)
		}
	} else {
		var one credentialJSON
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("parse credential object: %w", err)
		}
		items = append(items, one)
	}

	var out []dispatch.CredentialSet
	for _, it := range items {
		if it.usable() {
			out = append(out, it.set())
		}
	}
	if len(out) == 0 {
		return nil, errNoCredentials
	}
	return out, nil
}

// receiveTokens persists the uploaded sets and swaps them into the pool.
func (b *Bot) receiveTokens(ctx context.Context, req *router.Request) error {
	return b.storeTokens(ctx, req, req.Rest,
		i18n.IconError+" No valid credential sets found in the message.\nUse /settoken to try again.")
}

// receiveTokenFile reads credential sets from an attached .json or .txt file.
func (b *Bot) receiveTokenFile(ctx context.Context, req *router.Request) error {
	doc := req.Message.Document
	log := req.Logger.With(logx.String("file", doc.FileName), logx.Int64("size", doc.Size))

	switch strings.ToLower(path.Ext(doc.FileName)) {
	case ".json", ".txt":
	default:
		log.Info("credential file rejected: unsupported type")
		_, err := b.reply(ctx, req, i18n.IconError+" Send credential sets as a .json or .txt file.", nil)
		return err
	}
	if doc.Size > maxTokenFile {
		log.Info("credential file rejected: too large")
		_, err := b.reply(ctx, req, i18n.IconError+" The file is too large.", nil)
		return err
	}

	dl, ok := b.ad.(kit.FileDownloader)
	if !ok {
		log.Warn("credential file ignored: adapter cannot download files")
		_, err := b.reply(ctx, req, i18n.IconError+" File uploads are not supported here. Paste the JSON instead.", nil)
		return err
	}
	body, err := dl.DownloadFile(ctx, doc.FileID, maxTokenFile)
	if err != nil {
		log.Warn("credential file download failed", logx.Err(err))
		msg := i18n.IconError + " Could not download the file."
		if errors.Is(err, kit.ErrFileTooLarge) {
			msg = i18n.IconError + " The file is too large."
		}
		_, err = b.reply(ctx, req, msg, nil)
		return err
	}
	return b.storeTokens(ctx, req, strings.ToValidUTF8(string(body), ""),
		i18n.IconError+" No valid credential sets found in the file.\nUse /settoken to see the expected format.")
}

func (b *Bot) storeTokens(ctx context.Context, req *router.Request, text, rejected string) error {
	sets, err := parseCredentialSets(text)
	if err != nil {
		req.Logger.Info("credential upload rejected", logx.Err(err))
		_, err = b.reply(ctx, req, rejected, nil)
		return err
	}
	if err := b.store.SaveCredentialSets(ctx, dispatch.ToTokenSets(sets)); err != nil {
		req.Logger.Error("credential save failed", logx.Err(err))
		_, err = b.reply(ctx, req, i18n.IconError+" Could not store the credential sets.", nil)
		return err
	}
	b.svc.Credentials().Swap(sets)
	_, err = b.reply(ctx, req, renderSaved(sets), nil)
	return err
}

func renderSaved(sets []dispatch.CredentialSet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>Saved %d credential set(s)!</b>\n\n", i18n.IconSuccess, len(sets))
	for i, s := range sets {
		mode := "Production"
		if s.Sandbox {
			mode = "Sandbox"
		}
		fmt.Fprintf(&sb, "#%d: %s (%s)\n", i+1, tgui.Code(tgui.TruncRunes(s.FetchToken, 25)), mode)
	}
	sb.WriteString("\nThe sets are stored and survive restarts.")
	return sb.String()
}
