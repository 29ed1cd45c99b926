package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/store"
)

// templateOutcome is the template dispatch decision for one turn.
type templateOutcome int

const (
	// templateNotApplicable: the draft is not a photo request, or the lead
	// is missing what dispatch needs. Deliver the draft normally.
	templateNotApplicable templateOutcome = iota
	// templateSent: the template image went out; suppress the draft.
	templateSent
	// templateAlreadySent: the lead was already asked once; suppress the
	// draft without sending anything.
	templateAlreadySent
	// templateFallback: image resolution or send failed; deliver the
	// original draft instead.
	templateFallback
)

// photoRequestKeywords lists phrases that mark a draft as a photo request,
// per channel and language. The English set is always merged in as a
// fallback, so a missed translation degrades detection instead of breaking
// it.
var photoRequestKeywords = map[string]map[string][]string{
	"telegram": {
		"en": {"send photos", "send us photos", "share photos", "example photos", "photos of your", "front view", "side view"},
		"es": {"envíanos fotos", "enviar fotos", "comparte fotos", "fotos de tu", "vista frontal", "vista lateral"},
		"ru": {"отправьте фото", "пришлите фото", "фотографии вашей", "вид спереди", "вид сбоку"},
		"tr": {"fotoğraf gönder", "fotoğraflarını paylaş", "önden görünüm", "yandan görünüm"},
	},
	"whatsapp": {
		"en": {"send photos", "send us photos", "share photos", "example photos", "photos of your", "front view", "side view"},
		"es": {"envíanos fotos", "enviar fotos", "comparte fotos", "fotos de tu", "vista frontal", "vista lateral"},
		"ru": {"отправьте фото", "пришлите фото", "фотографии вашей", "вид спереди", "вид сбоку"},
		"tr": {"fotoğraf gönder", "fotoğraflarını paylaş", "önden görünüm", "yandan görünüm"},
	},
}

// numberedInstructionPatterns catch drafts laying out photo instructions as
// a numbered list. Language-agnostic and case-insensitive.
var numberedInstructionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\b1\s*[.)][^\n]{0,80}\n+\s*2\s*[.)]`),
	regexp.MustCompile(`(?i)(front|side|top)\s+view`),
	regexp.MustCompile(`(?i)(photo|foto|фото)[^\n]{0,40}(front|frente|спереди|önden)`),
}

// templateCaptions localizes the caption accompanying a template image,
// keyed by language then treatment category. Lookup falls back to "en",
// then to the "default" category within the chosen language.
var templateCaptions = map[string]map[string]string{
	"en": {
		"default":         "Here are example photos showing the angles we need. Please send yours the same way.",
		"hair_transplant": "Here are example photos for a hair assessment: front, top and both sides. Please send yours the same way.",
		"dental":          "Here are example photos for a dental assessment: a close-up smile and both side profiles.",
	},
	"es": {
		"default":         "Aquí tienes fotos de ejemplo con los ángulos que necesitamos. Envíanos las tuyas de la misma forma.",
		"hair_transplant": "Fotos de ejemplo para la evaluación capilar: frente, parte superior y ambos lados.",
	},
	"ru": {
		"default": "Вот примеры фотографий с нужными ракурсами. Пожалуйста, пришлите свои в том же виде.",
	},
	"tr": {
		"default": "İhtiyacımız olan açıları gösteren örnek fotoğraflar. Lütfen kendi fotoğraflarınızı aynı şekilde gönderin.",
	},
}

// IsPhotoRequest reports whether a draft reply is asking the lead for
// photos, using per-channel keyword sets plus numbered-instruction
// patterns.
func IsPhotoRequest(channel, language, draft string) bool {
	lower := strings.ToLower(draft)

	langs := photoRequestKeywords[channel]
	keywords := append([]string{}, langs[normalizeLang(language)]...)
	keywords = append(keywords, langs["en"]...)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	for _, pattern := range numberedInstructionPatterns {
		if pattern.MatchString(draft) {
			return true
		}
	}
	return false
}

// templateCaption resolves the localized caption for (language, category).
func templateCaption(language, category string) string {
	lang := normalizeLang(language)
	byCategory, ok := templateCaptions[lang]
	if !ok {
		byCategory = templateCaptions["en"]
	}
	if caption, ok := byCategory[category]; ok {
		return caption
	}
	if caption, ok := byCategory["default"]; ok {
		return caption
	}
	return templateCaptions["en"]["default"]
}

func normalizeLang(language string) string {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// templatePolicy decides whether a canned example-photo image replaces the
// AI draft, with the persisted per-lead flag making the send at most once.
type templatePolicy struct {
	leads     store.LeadStore
	messages  store.MessageStore
	messenger Messenger
	assets    TemplateAssets
}

// apply evaluates the policy for one turn. The caller suppresses the draft
// when the outcome is templateSent or templateAlreadySent.
func (t *templatePolicy) apply(ctx context.Context, lead *store.Lead, language, draft string) templateOutcome {
	if !IsPhotoRequest(lead.Channel, language, draft) {
		return templateNotApplicable
	}
	if lead.TreatmentCategory == "" || lead.ChannelUserID == "" {
		return templateNotApplicable
	}

	if lead.Profile != nil && lead.Profile.PhotoTemplateSent {
		t.recordSystemNote(ctx, lead, "photo template already sent, AI photo request suppressed")
		return templateAlreadySent
	}

	caption := templateCaption(language, lead.TreatmentCategory)
	externalID, err := t.sendTemplate(ctx, lead, caption)
	if err != nil {
		slog.Warn("template image send failed, falling back to draft",
			"lead_id", lead.ID, "category", lead.TreatmentCategory, "error", err)
		return templateFallback
	}

	sent := true
	if err := t.leads.UpsertProfile(ctx, lead.ID, store.ProfilePatch{PhotoTemplateSent: &sent}); err != nil {
		slog.Error("failed to persist template-sent flag", "lead_id", lead.ID, "error", err)
	}

	t.recordSystemNote(ctx, lead, "photo template sent: "+caption)

	if err := t.leads.SetStatus(ctx, lead.ID, store.StatusWaitingPhotos); err != nil {
		slog.Error("failed to set waiting_photos status", "lead_id", lead.ID, "error", err)
	}

	slog.Info("photo template dispatched",
		"lead_id", lead.ID, "category", lead.TreatmentCategory, "external_id", externalID)
	return templateSent
}

// sendTemplate tries binary upload first, then link-based media.
func (t *templatePolicy) sendTemplate(ctx context.Context, lead *store.Lead, caption string) (string, error) {
	asset, err := t.assets.Binary(lead.TreatmentCategory)
	if err == nil {
		externalID, sendErr := t.messenger.SendMediaBytes(ctx, lead.Channel, lead.ChannelUserID,
			asset.Data, asset.MimeType, caption)
		if sendErr == nil {
			return externalID, nil
		}
		slog.Debug("binary template send failed, trying URL",
			"lead_id", lead.ID, "error", sendErr)
	}

	mediaURL, err := t.assets.URL(lead.TreatmentCategory)
	if err != nil {
		return "", err
	}
	return t.messenger.SendMediaURL(ctx, lead.Channel, lead.ChannelUserID, mediaURL, "image", caption)
}

func (t *templatePolicy) recordSystemNote(ctx context.Context, lead *store.Lead, note string) {
	msg := &store.ConversationMessage{
		ID:             uuid.Must(uuid.NewV7()),
		LeadID:         lead.ID,
		ConversationID: lead.ConversationID,
		Direction:      store.DirectionOut,
		SenderType:     store.SenderSystem,
		Content:        note,
		MediaType:      "text",
	}
	if err := t.messages.CreateMessage(ctx, msg); err != nil {
		slog.Warn("failed to record system note", "lead_id", lead.ID, "error", err)
	}
}
