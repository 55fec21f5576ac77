package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// AutomationStep identifies one stage of the portal upload flow. Order is the
// execution order.
type AutomationStep int

const (
	StepLogin AutomationStep = iota
	StepConfigureSettings
	StepNavigateToUploadArea
	StepOpenUploadModal
	StepSelectZone
	StepSelectPriceTier
	StepUploadCsv
	StepEnableConfirmationEmail
	StepSubmit
)

const stepNone AutomationStep = -1

func (s AutomationStep) String() string {
	switch s {
	case StepLogin:
		return "Login"
	case StepConfigureSettings:
		return "ConfigureSettings"
	case StepNavigateToUploadArea:
		return "NavigateToUploadArea"
	case StepOpenUploadModal:
		return "OpenUploadModal"
	case StepSelectZone:
		return "SelectZone"
	case StepSelectPriceTier:
		return "SelectPriceTier"
	case StepUploadCsv:
		return "UploadCsv"
	case StepEnableConfirmationEmail:
		return "EnableConfirmationEmail"
	case StepSubmit:
		return "Submit"
	default:
		return "None"
	}
}

// WorkflowResult reports how far a portal run got. On success FailedStep is
// stepNone and StepsCompleted covers the whole flow.
type WorkflowResult struct {
	Success        bool
	FailedStep     AutomationStep
	Diagnostic     string
	StepsCompleted int
}

func (r WorkflowResult) Summary() string {
	if r.Success {
		return fmt.Sprintf("completed %d steps", r.StepsCompleted)
	}
	return fmt.Sprintf("failed at %s after %d steps: %s", r.FailedStep, r.StepsCompleted, r.Diagnostic)
}

// Portal control locators. Each keeps every selector that has matched the
// control across portal releases, most specific first.
var (
	locUsername = Locator{
		"#login",
		`input[name="login"]`,
		`input[type="text"][name="login"]`,
	}
	locContinue = Locator{
		"#btnLogin",
		`button[id="btnLogin"]`,
		`button[type="submit"][id="btnLogin"]`,
	}
	locPassword = Locator{
		"#password",
		`input[name="password"]`,
		`input[type="password"]`,
	}
	locFinalLogin = Locator{
		"#btnLoginPasswd",
		"#btnLogin",
		`button[type="submit"]`,
		".button.primary",
	}
	locLoginError = Locator{
		".alert-danger",
		".invalid-feedback",
		".text-danger",
	}
	locBoxofficeChoice = Locator{
		`div[data-value="1"]`,
		`.choices__item[data-value="1"]`,
		`div.choices__item.choices__item--selectable[data-value="1"]`,
	}
	locSettingsSave = Locator{
		".palco4icon-floppy",
		"i.palco4icon.palco4icon-floppy",
		`[class*="floppy"]`,
	}
	locCsvUpload = Locator{
		"#csv-sales",
		"div#csv-sales.btn-ctrl-sesion-right-l",
		`div[onclick="showModalCsvSales()"]`,
		`*[onclick*="showModalCsvSales"]`,
		".palco4icon-cloud-upload",
		".btn-ctrl-sesion-right-l",
	}
	locUploadModal = Locator{
		".modal",
		"#modal",
		".csv-modal",
		`[class*="modal"]`,
	}
	locZoneSelect = Locator{
		"#zoneCSV",
		"select#zoneCSV",
		`select[onchange="populatePrices()"]`,
	}
	locPriceSelect = Locator{
		"#priceCSV",
		"select#priceCSV",
	}
	locFileInput = Locator{
		"#inputFile_fileUpload",
		`input[name="inputFile_fileUpload"]`,
		`input[type="file"][id*="fileUpload"]`,
		`input[type="file"]`,
	}
	locConfirmationEmail = Locator{
		"#sendConfirmationEmail",
		`input[name="sendConfirmationEmail"]`,
		`#sendConfirmationEmail-wrapper input[type="checkbox"]`,
	}
	locSubmit = Locator{
		`a[onclick*="readLoadSalesCSV"]`,
		"a.button.primary.expanded",
		".button.primary",
		"a.button.expanded",
	}
)

// submitCompletionMarkers are the page texts that signal CSV processing
// finished. The portal shows them in either language depending on locale.
var submitCompletionMarkers = []string{
	"Completado", "Enviado", "Finalizado",
	"Complete", "Success", "Sent", "Finished", "Done",
}

// Workflow drives the portal's CSV bulk-upload flow end to end. One run is
// one browser session; there is no retry and no rollback, a failed step
// halts the run and is reported as-is.
type Workflow struct {
	cfg        Config
	newSession func() (BrowserSession, error)
	sleep      func(time.Duration)
}

func NewWorkflow(cfg Config) *Workflow {
	return &Workflow{
		cfg:        cfg,
		newSession: func() (BrowserSession, error) { return NewRodSession(cfg) },
		sleep:      time.Sleep,
	}
}

// Run uploads the guest rows and triggers QR issuance. The temp CSV and the
// browser session are released no matter where the run stops.
func (w *Workflow) Run(ctx context.Context, guests []map[string]string) WorkflowResult {
	session, err := w.newSession()
	if err != nil {
		return WorkflowResult{FailedStep: StepLogin, Diagnostic: fmt.Sprintf("acquiring browser session: %v", err)}
	}
	run := &portalRun{cfg: w.cfg, s: session, sleep: w.sleep, guests: guests}
	defer func() {
		if run.csvPath != "" {
			if err := os.Remove(run.csvPath); err != nil && !os.IsNotExist(err) {
				log.Printf("workflow csv cleanup failed path=%s: %v", run.csvPath, err)
			}
		}
		if err := session.Close(); err != nil {
			log.Printf("workflow session close failed: %v", err)
		}
	}()

	steps := []struct {
		id AutomationStep
		fn func() error
	}{
		{StepLogin, run.login},
		{StepConfigureSettings, run.configureSettings},
		{StepNavigateToUploadArea, run.navigateToUploadArea},
		{StepOpenUploadModal, run.openUploadModal},
		{StepSelectZone, run.selectZone},
		{StepSelectPriceTier, run.selectPriceTier},
		{StepUploadCsv, run.uploadCsv},
		{StepEnableConfirmationEmail, run.enableConfirmationEmail},
		{StepSubmit, run.submit},
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return WorkflowResult{FailedStep: step.id, Diagnostic: fmt.Sprintf("canceled: %v", err), StepsCompleted: i}
		}
		log.Printf("workflow step=%s (%d/%d)", step.id, i+1, len(steps))
		if err := step.fn(); err != nil {
			log.Printf("workflow step=%s failed: %v", step.id, err)
			return WorkflowResult{FailedStep: step.id, Diagnostic: err.Error(), StepsCompleted: i}
		}
	}

	return WorkflowResult{Success: true, FailedStep: stepNone, StepsCompleted: len(steps)}
}

type portalRun struct {
	cfg    Config
	s      BrowserSession
	sleep  func(time.Duration)
	guests []map[string]string

	csvPath string
	rows    int
}

// login performs the two-stage credential flow. The portal never confirms a
// login directly, so success is any one of several disjunctive signals.
func (r *portalRun) login() error {
	if err := r.s.Navigate(r.cfg.PortalBaseURL + "/backoffice/login"); err != nil {
		return err
	}

	userSel, err := locUsername.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := r.s.Fill(userSel, r.cfg.PortalUsername); err != nil {
		return err
	}
	continueSel, err := locContinue.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("continue button: %w", err)
	}
	if err := r.s.Click(continueSel); err != nil {
		return err
	}
	r.sleep(2 * time.Second)

	if err := r.s.WaitVisible("#password"); err != nil {
		log.Printf("workflow password field wait: %v", err)
	}
	passSel, err := locPassword.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := r.s.Fill(passSel, r.cfg.PortalPassword); err != nil {
		return err
	}
	loginSel, err := locFinalLogin.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("login button: %w", err)
	}
	if err := r.s.Click(loginSel); err != nil {
		return err
	}
	r.sleep(3 * time.Second)

	if sel, err := locLoginError.Resolve(r.s); err == nil && r.s.Visible(sel) {
		return fmt.Errorf("portal rejected credentials (%s visible)", sel)
	}

	policy := AnySignal{
		{Name: "dashboard url", Check: func() bool {
			u := strings.ToLower(r.s.CurrentURL())
			return strings.Contains(u, "dashboard") || strings.Contains(u, "home") || strings.Contains(u, "main")
		}},
		{Name: "backoffice url without login", Check: func() bool {
			u := strings.ToLower(r.s.CurrentURL())
			return strings.Contains(u, "backoffice") && !strings.Contains(u, "login")
		}},
		{Name: "login fields gone", Check: func() bool {
			return !r.s.Visible("#login") && !r.s.Visible("#password")
		}},
	}
	ok, detail := policy.Satisfied()
	if !ok {
		return fmt.Errorf("login not confirmed: %s (url=%s)", detail, r.s.CurrentURL())
	}
	log.Printf("workflow login confirmed by %s", detail)
	return nil
}

// configureSettings selects the box office profile and saves it. The portal
// works without this on most accounts, so every miss is logged and skipped
// rather than failing the run.
func (r *portalRun) configureSettings() error {
	if err := r.s.Navigate(r.cfg.PortalBaseURL + "/backoffice/settingsBoxoffice"); err != nil {
		log.Printf("workflow settings page unavailable: %v", err)
		return nil
	}
	r.sleep(1 * time.Second)

	if sel, err := locBoxofficeChoice.Resolve(r.s); err == nil {
		if err := r.s.Click(sel); err != nil {
			log.Printf("workflow settings choice click failed: %v", err)
		}
		r.sleep(1 * time.Second)
	} else {
		log.Printf("workflow settings choice not found, continuing")
	}

	if sel, err := locSettingsSave.Resolve(r.s); err == nil {
		if err := r.s.Click(sel); err != nil {
			log.Printf("workflow settings save click failed: %v", err)
		}
	} else {
		log.Printf("workflow settings save button not found, continuing")
	}
	return nil
}

func (r *portalRun) navigateToUploadArea() error {
	if err := r.s.Navigate(r.cfg.PortalBaseURL + "/backoffice/boxoffice"); err != nil {
		return err
	}
	r.sleep(1 * time.Second)
	return nil
}

// openUploadModal clicks the CSV upload control. Modal detection is a hint
// only: the click handler is known to work even when none of the modal
// selectors match.
func (r *portalRun) openUploadModal() error {
	sel, err := locCsvUpload.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("csv upload control: %w", err)
	}
	if err := r.s.Click(sel); err != nil {
		return err
	}
	r.sleep(1 * time.Second)

	policy := AnySignal{
		{Name: "upload modal visible", Check: func() bool {
			s, err := locUploadModal.Resolve(r.s)
			return err == nil && r.s.Visible(s)
		}},
	}
	if ok, _ := policy.Satisfied(); !ok {
		log.Printf("workflow upload modal not detected after click, continuing")
	}
	return nil
}

// selectZone sets the zone dropdown, trying value selection, label selection
// and a manual option click in that order.
func (r *portalRun) selectZone() error {
	sel, err := locZoneSelect.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("zone dropdown: %w", err)
	}
	return r.selectWithFallback(sel, r.cfg.PortalZoneValue, r.cfg.PortalZoneLabel)
}

// selectPriceTier waits for the price dropdown to be populated (its options
// load only after a zone is chosen) and then selects the configured tier.
func (r *portalRun) selectPriceTier() error {
	sel, err := locPriceSelect.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("price dropdown: %w", err)
	}

	optionSel := fmt.Sprintf("%s option[value=%q]", sel, r.cfg.PortalPriceValue)
	populated := TimedPoll{
		Signals: AnySignal{
			{Name: "price option present", Check: func() bool { return r.s.Exists(optionSel) }},
		},
		Interval:    time.Second,
		MaxAttempts: 10,
		sleep:       r.sleep,
	}
	if ok, detail := populated.Satisfied(); !ok {
		log.Printf("workflow price options not confirmed (%s), selecting anyway", detail)
	}

	return r.selectWithFallback(sel, r.cfg.PortalPriceValue, r.cfg.PortalPriceLabel)
}

func (r *portalRun) selectWithFallback(selector, value, label string) error {
	if err := r.s.SelectValue(selector, value); err == nil {
		return nil
	} else {
		log.Printf("workflow select by value=%q failed on %s: %v", value, selector, err)
	}
	if label != "" {
		if err := r.s.SelectByLabel(selector, label); err == nil {
			return nil
		} else {
			log.Printf("workflow select by label=%q failed on %s: %v", label, selector, err)
		}
	}
	if err := r.s.Click(selector); err != nil {
		return fmt.Errorf("opening dropdown %s: %w", selector, err)
	}
	optionSel := fmt.Sprintf("%s option[value=%q]", selector, value)
	if err := r.s.Click(optionSel); err != nil {
		return fmt.Errorf("selecting option %s: %w", optionSel, err)
	}
	return nil
}

// uploadCsv builds the portal import file from the guest rows and feeds it to
// the file input. Rows without an email were already dropped by the builder;
// an empty file means there is nothing the portal could ticket.
func (r *portalRun) uploadCsv() error {
	path, rows, err := BuildPortalCSV(r.guests)
	if err != nil {
		return err
	}
	r.csvPath = path
	r.rows = rows
	if rows == 0 {
		return fmt.Errorf("no guest rows with email to upload")
	}

	sel, err := locFileInput.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("file input: %w", err)
	}
	if err := r.s.Upload(sel, path); err != nil {
		return err
	}
	r.sleep(2 * time.Second)
	return nil
}

func (r *portalRun) enableConfirmationEmail() error {
	sel, err := locConfirmationEmail.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("confirmation email checkbox: %w", err)
	}
	if checked, err := r.s.IsChecked(sel); err == nil && checked {
		log.Printf("workflow confirmation email already enabled")
		return nil
	}
	return r.s.Check(sel)
}

// submit triggers CSV processing and polls for a completion marker. The
// portal gives no machine-readable completion signal; an expired poll is
// logged as tentative success, never as failure.
func (r *portalRun) submit() error {
	sel, err := locSubmit.Resolve(r.s)
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	if err := r.s.Click(sel); err != nil {
		return err
	}

	poll := TimedPoll{
		Signals: AnySignal{
			{Name: "completion text", Check: func() bool {
				for _, marker := range submitCompletionMarkers {
					if r.s.ContainsText(marker) {
						return true
					}
				}
				return false
			}},
		},
		Interval:    time.Duration(r.cfg.SubmitPollSeconds) * time.Second,
		MaxAttempts: r.cfg.SubmitPollMaxAttempts,
		sleep:       r.sleep,
	}
	if ok, detail := poll.Satisfied(); ok {
		log.Printf("workflow submit confirmed: %s rows=%d", detail, r.rows)
	} else {
		log.Printf("workflow submit not confirmed (%s), assuming processing started rows=%d", detail, r.rows)
	}
	return nil
}
