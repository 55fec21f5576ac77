package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
)

var (
	countPatterns = []*regexp.Regexp{
		regexp.MustCompile(`cu[aá]ntos invitados`),
		regexp.MustCompile(`contar invitados`),
		regexp.MustCompile(`total de invitados`),
		regexp.MustCompile(`invitados totales`),
		regexp.MustCompile(`lista de invitados`),
	}
	helpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^ayuda$`),
		regexp.MustCompile(`^help$`),
		regexp.MustCompile(`c[oó]mo funciona`),
		regexp.MustCompile(`c[oó]mo usar`),
	}
	sendQRPattern = regexp.MustCompile(`^enviar qr\s*(.*)$`)
	eventPrefix   = regexp.MustCompile(`(?i)^evento:\s*(.+)$`)
)

const helpText = `📱 *Ayuda del sistema de invitados*

Para agregar invitados:
` + "```" + `
Hombres
Juan Pérez
Pedro Gómez
juan@mail.com
pedro@mail.com

Mujeres
María López
maria@mail.com
` + "```" + `

Para consultar:
- Escribe "cuántos invitados" para ver el total
- También puedes escribir "lista de invitados"

Para enviar los QR:
- Escribe "enviar qr" (o "enviar qr NombreDelEvento")

Categorías disponibles:
- Hombres
- Mujeres
- Niños
- Adultos
- Familia`

const unknownText = `No pude entender tu mensaje. Puedes:

- Agregar invitados usando categorías (Hombres, Mujeres, etc.) con sus emails
- Consultar tu lista con "cuántos invitados"
- Enviar los QR con "enviar qr"
- Escribir "ayuda" para ver instrucciones detalladas`

// SendFunc delivers a reply back over the transport.
type SendFunc func(ctx context.Context, phone, text string) error

// Bot routes incoming promoter messages: guest lists by default, plus the
// count, QR-send and help commands. Unauthorized senders get no reply at all.
type Bot struct {
	cfg       Config
	store     *SheetsStore
	parser    *Parser
	extractor *GuestExtractor
	workflow  *Workflow
	notifier  *Notifier
	send      SendFunc
}

func NewBot(cfg Config, store *SheetsStore, parser *Parser, extractor *GuestExtractor, workflow *Workflow, notifier *Notifier, send SendFunc) *Bot {
	return &Bot{
		cfg:       cfg,
		store:     store,
		parser:    parser,
		extractor: extractor,
		workflow:  workflow,
		notifier:  notifier,
		send:      send,
	}
}

// HandleMessage is the transport callback for one inbound message.
func (b *Bot) HandleMessage(ctx context.Context, msg IncomingMessage) {
	phone := normalizePhone(msg.SenderPhone)

	roster, err := b.store.ReadAuthorizedSenders(ctx)
	if err != nil {
		log.Printf("bot roster lookup failed sender=%s: %v", phone, err)
		return
	}
	promoterName, ok := roster[phone]
	if !ok {
		log.Printf("bot dropped message from unauthorized sender=%s name=%q", phone, msg.SenderName)
		return
	}

	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)
	log.Printf("bot message sender=%s promoter=%q chars=%d", phone, promoterName, len(text))

	switch {
	case matchesAny(lower, helpPatterns):
		b.reply(ctx, phone, helpText)
	case matchesAny(lower, countPatterns):
		b.handleCount(ctx, phone)
	case sendQRPattern.MatchString(lower):
		event := strings.TrimSpace(sendQRPattern.FindStringSubmatch(lower)[1])
		b.handleSendQR(ctx, phone, promoterName, event)
	default:
		b.handleGuestList(ctx, phone, promoterName, text)
	}
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// handleGuestList ingests free-text guest data. AI extraction runs first when
// configured; any failure there falls back to the deterministic parser.
func (b *Bot) handleGuestList(ctx context.Context, phone, promoterName, text string) {
	event, body := splitEventHeader(text)
	if event == "" {
		event = b.cfg.DefaultEvent
	}

	var guests []GuestRecord
	if b.extractor != nil && b.cfg.AIConfigured() {
		extracted, usage, err := b.extractor.ExtractGuests(ctx, body)
		if err != nil {
			log.Printf("bot ai extraction failed, using parser: %v", err)
		} else {
			log.Printf("bot ai extraction guests=%d tokens=%d", len(extracted), usage.TotalTokens())
			guests = extracted
		}
	}
	if guests == nil {
		outcome := b.parser.Parse(ctx, body, detectParseMode(body))
		if len(outcome.Guests) == 0 {
			if errors.Is(outcome.Err, ErrNoGuestData) {
				b.reply(ctx, phone, unknownText)
			} else {
				b.reply(ctx, phone, DescribeParseError(outcome.Err))
			}
			return
		}
		guests = outcome.Guests
	}

	if err := b.store.AppendGuests(ctx, event, guests, promoterName, phone); err != nil {
		log.Printf("bot append failed event=%q: %v", event, err)
		b.reply(ctx, phone, "No pude guardar los invitados, inténtalo de nuevo en unos minutos.")
		return
	}

	b.reply(ctx, phone, formatAddConfirmation(guests, event))
}

func (b *Bot) handleCount(ctx context.Context, phone string) {
	counts, total, err := b.store.CountByCategory(ctx, b.cfg.DefaultEvent, phone)
	if err != nil {
		log.Printf("bot count failed: %v", err)
		b.reply(ctx, phone, "No pude consultar la lista, inténtalo de nuevo en unos minutos.")
		return
	}
	if total == 0 {
		b.reply(ctx, phone, "No tienes invitados registrados aún.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Resumen de invitados:\n\n")
	for _, category := range sortedKeys(counts) {
		fmt.Fprintf(&sb, "- %s: %d\n", category, counts[category])
	}
	fmt.Fprintf(&sb, "\nTotal: %d invitados", total)
	b.reply(ctx, phone, sb.String())
}

// handleSendQR kicks off the portal upload in the background so the
// transport event loop is not blocked for the duration of the run.
func (b *Bot) handleSendQR(ctx context.Context, phone, promoterName, event string) {
	if !b.cfg.PortalConfigured() {
		b.reply(ctx, phone, "El envío de QR no está habilitado en este momento.")
		return
	}
	if event == "" {
		event = b.cfg.DefaultEvent
	}

	rows, err := b.store.ReadGuests(ctx, event)
	if err != nil {
		log.Printf("bot qr read failed event=%q: %v", event, err)
		b.reply(ctx, phone, fmt.Sprintf("No pude leer la lista del evento %q.", event))
		return
	}
	if len(rows) == 0 {
		b.reply(ctx, phone, fmt.Sprintf("El evento %q no tiene invitados registrados.", event))
		return
	}

	b.reply(ctx, phone, fmt.Sprintf("⏳ Procesando el envío de QR para %q (%d filas)...", event, len(rows)))

	go func() {
		result := b.workflow.Run(context.Background(), rows)
		b.notifier.NotifyWorkflow(event, promoterName, result)

		if result.Success {
			if err := b.store.MarkSent(context.Background(), event); err != nil {
				log.Printf("bot mark-sent failed event=%q: %v", event, err)
			}
			b.reply(context.Background(), phone, fmt.Sprintf("✅ QR enviados para %q (%d pasos completados).", event, result.StepsCompleted))
			return
		}
		log.Printf("bot qr run failed event=%q: %s", event, result.Summary())
		b.reply(context.Background(), phone, fmt.Sprintf(
			"❌ El envío de QR para %q falló en el paso %s (se completaron %d). Avisá al administrador.",
			event, result.FailedStep, result.StepsCompleted))
	}()
}

func (b *Bot) reply(ctx context.Context, phone, text string) {
	if err := b.send(ctx, phone, text); err != nil {
		log.Printf("bot reply failed phone=%s: %v", phone, err)
	}
}

// splitEventHeader peels an optional "Evento: X" first line off the message.
func splitEventHeader(text string) (event, rest string) {
	lines := strings.SplitN(text, "\n", 2)
	m := eventPrefix.FindStringSubmatch(strings.TrimSpace(lines[0]))
	if m == nil {
		return "", text
	}
	if len(lines) > 1 {
		rest = lines[1]
	}
	return strings.TrimSpace(m[1]), rest
}

// detectParseMode picks the parser mode from the message shape: a line
// holding both a name and an email means inline format, a social-handle line
// means the three-block layout.
func detectParseMode(text string) ParseMode {
	sawHandle := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if email := emailRegex.FindString(line); email != "" {
			rest := strings.Trim(strings.Replace(line, email, "", 1), "-: ")
			if looksLikeName(strings.TrimSpace(rest)) {
				return ParseInline
			}
			continue
		}
		if looksLikeSocialHandle(line) {
			sawHandle = true
		}
	}
	if sawHandle {
		return ParseBlocksSocial
	}
	return ParseBlocks
}

func formatAddConfirmation(guests []GuestRecord, event string) string {
	counts := make(map[string]int)
	for _, g := range guests {
		counts[g.Category]++
	}

	var sb strings.Builder
	if len(guests) == 1 {
		sb.WriteString("✅ Se ha registrado 1 invitado correctamente")
	} else {
		fmt.Fprintf(&sb, "✅ Se han registrado %d invitados correctamente", len(guests))
	}
	fmt.Fprintf(&sb, " en %q.\n", event)
	for _, category := range sortedKeys(counts) {
		fmt.Fprintf(&sb, "- %s: %d\n", category, counts[category])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
