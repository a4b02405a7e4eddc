package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
)

func TestResolutionEngineEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "crm_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	biz := &models.Business{Name: "Resolution Co", Email: "owner@resolution.test"}
	if err := biz.Store(db, ctx); err != nil {
		t.Fatalf("create business: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	newDeal := func(name string, hint, contactName, contactEmail string) *models.Deal {
		t.Helper()
		d := &models.Deal{
			BusinessId:      businessID,
			DealName:        name,
			CompanyNameHint: utils.NilIfEmpty(hint),
			ContactName:     utils.NilIfEmpty(contactName),
			ContactEmail:    utils.NilIfEmpty(contactEmail),
			OwnerUserId:     1,
		}
		if err := d.Store(db, ctx); err != nil {
			t.Fatalf("create deal %q: %v", name, err)
		}
		return d
	}

	d1 := newDeal("Acme pilot", "Acme Corp", "Jane Doe", "jane@acme.com")
	d2 := newDeal("Mystery deal", "", "", "")
	d3 := newDeal("Acme expansion", "", "John Smith", "john@acme.com")
	d4 := newDeal("Typo deal", "Beta", "Bob Stone", "not-an-email")

	report1, err := workflow.RunResolution(ctx, db, logger, businessID, "test")
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if report1.SuccessCount != 2 || report1.ReviewCount != 2 || report1.ErrorCount != 0 {
		t.Fatalf("run 1 counts = %+v", report1)
	}

	// d1 and d3 share one company keyed by the acme.com domain.
	d1r, err := models.GetDeal(ctx, d1.ID)
	if err != nil {
		t.Fatalf("reload d1: %v", err)
	}
	d3r, err := models.GetDeal(ctx, d3.ID)
	if err != nil {
		t.Fatalf("reload d3: %v", err)
	}
	if !d1r.IsResolved() || !d3r.IsResolved() {
		t.Fatalf("d1/d3 not resolved: %+v %+v", d1r, d3r)
	}
	if *d1r.CompanyId != *d3r.CompanyId {
		t.Fatalf("domain match split into two companies: %d vs %d", *d1r.CompanyId, *d3r.CompanyId)
	}
	if *d1r.ContactId == *d3r.ContactId {
		t.Fatal("distinct emails collapsed into one contact")
	}
	acme, err := models.GetCompany(ctx, *d1r.CompanyId)
	if err != nil {
		t.Fatalf("load acme: %v", err)
	}
	if acme.Name != "Acme Corp" || acme.Domain == nil || *acme.Domain != "acme.com" {
		t.Fatalf("acme = %+v", acme)
	}
	jane, err := models.GetContact(ctx, *d1r.ContactId)
	if err != nil {
		t.Fatalf("load jane: %v", err)
	}
	if jane.FirstName != "Jane" || jane.LastName != "Doe" || !jane.IsPrimary {
		t.Fatalf("jane = %+v", jane)
	}
	john, err := models.GetContact(ctx, *d3r.ContactId)
	if err != nil {
		t.Fatalf("load john: %v", err)
	}
	if john.IsPrimary {
		t.Fatal("second contact must not be primary")
	}

	// d2 (nothing to match on) and d4 (broken email) are queued, not resolved.
	pending, err := models.GetReviewCases(ctx, businessID, models.ReviewStatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending cases = %d, want 2", len(pending))
	}
	reasonByDeal := map[int]models.ReviewReason{}
	for _, rc := range pending {
		reasonByDeal[rc.DealId] = rc.Reason
	}
	if reasonByDeal[d2.ID] != models.ReviewReasonNoEmail {
		t.Fatalf("d2 reason = %s", reasonByDeal[d2.ID])
	}
	if reasonByDeal[d4.ID] != models.ReviewReasonInvalidEmail {
		t.Fatalf("d4 reason = %s", reasonByDeal[d4.ID])
	}

	// Re-running is idempotent: already-resolved deals are untouched and the
	// queued deals do not accumulate duplicate pending cases.
	report2, err := workflow.RunResolution(ctx, db, logger, businessID, "test")
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if report2.SuccessCount != 0 || report2.ReviewCount != 2 {
		t.Fatalf("run 2 counts = %+v", report2)
	}
	pending, err = models.GetReviewCases(ctx, businessID, models.ReviewStatusPending)
	if err != nil {
		t.Fatalf("list pending after rerun: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending cases after rerun = %d, want 2", len(pending))
	}
	var companies int64
	if err := db.WithContext(ctx).Model(&models.Company{}).Where("business_id = ?", businessID).Count(&companies).Error; err != nil {
		t.Fatalf("count companies: %v", err)
	}
	if companies != 1 {
		t.Fatalf("companies after rerun = %d, want 1", companies)
	}

	// Rollback: a new run resolves a new deal, rolling that run back clears
	// only its linkage and re-resolves without duplicating entities. With
	// events enabled, every lifecycle step lands in the outbox.
	t.Setenv("RESOLUTION_EVENTS_ENABLED", "1")
	d5 := newDeal("Beta intro", "Beta Ltd", "Bob Stone", "bob@beta.io")
	report3, err := workflow.RunResolution(ctx, db, logger, businessID, "test")
	if err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if report3.SuccessCount != 1 {
		t.Fatalf("run 3 counts = %+v", report3)
	}

	rerunReport, err := workflow.RollbackAndRerun(ctx, db, logger, report3.RunId, "test")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	run3, err := models.GetResolutionRun(ctx, report3.RunId)
	if err != nil {
		t.Fatalf("load run 3: %v", err)
	}
	if run3.Status != models.ResolutionRunStatusRolledBack {
		t.Fatalf("run 3 status = %s", run3.Status)
	}
	d5r, err := models.GetDeal(ctx, d5.ID)
	if err != nil {
		t.Fatalf("reload d5: %v", err)
	}
	if !d5r.IsResolved() {
		t.Fatal("d5 not re-resolved after rollback")
	}
	if d5r.ResolutionRunId == nil || *d5r.ResolutionRunId != rerunReport.RunId {
		t.Fatalf("d5 run tag = %v, want %s", d5r.ResolutionRunId, rerunReport.RunId)
	}
	d1r, err = models.GetDeal(ctx, d1.ID)
	if err != nil {
		t.Fatalf("reload d1 after rollback: %v", err)
	}
	if !d1r.IsResolved() {
		t.Fatal("rollback of run 3 touched a deal resolved by run 1")
	}
	var betaCount int64
	if err := db.WithContext(ctx).Model(&models.Company{}).Where("business_id = ? AND domain = ?", businessID, "beta.io").Count(&betaCount).Error; err != nil {
		t.Fatalf("count beta: %v", err)
	}
	if betaCount != 1 {
		t.Fatalf("beta companies = %d, want 1", betaCount)
	}
	var events []*models.ResolutionEventRecord
	if err := db.WithContext(ctx).Where("deal_id = ?", d5.ID).Order("id ASC").Find(&events).Error; err != nil {
		t.Fatalf("load outbox events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("outbox events for d5 = %d, want resolved/rolled_back/resolved", len(events))
	}
	wantActions := []models.ResolutionEventAction{
		models.ResolutionEventActionResolved,
		models.ResolutionEventActionRolledBack,
		models.ResolutionEventActionResolved,
	}
	for i, ev := range events {
		if ev.Action != wantActions[i] {
			t.Fatalf("event %d action = %s, want %s", i, ev.Action, wantActions[i])
		}
	}
	rolledBack := events[1]
	if rolledBack.RunId != report3.RunId {
		t.Fatalf("rolled_back event run = %s, want %s", rolledBack.RunId, report3.RunId)
	}
	if rolledBack.CompanyId == 0 || rolledBack.ContactId == 0 {
		t.Fatalf("rolled_back event must carry the undone linkage: %+v", rolledBack)
	}

	// Human review: link d2 by hand, exactly once.
	var d2Case *models.ReviewCase
	for _, rc := range pending {
		if rc.DealId == d2.ID {
			d2Case = rc
		}
	}
	if d2Case == nil {
		t.Fatal("no pending case for d2")
	}
	resolved, err := workflow.ResolveReviewCase(ctx, db, logger, d2Case.ID, acme.ID, jane.ID, 7, "matched by hand")
	if err != nil {
		t.Fatalf("resolve case: %v", err)
	}
	if resolved.Status != models.ReviewStatusResolved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != 7 {
		t.Fatalf("resolved case = %+v", resolved)
	}
	d2r, err := models.GetDeal(ctx, d2.ID)
	if err != nil {
		t.Fatalf("reload d2: %v", err)
	}
	if !d2r.IsResolved() || d2r.ResolutionRunId != nil {
		t.Fatalf("manual linkage must carry no run tag: %+v", d2r)
	}
	_, err = workflow.ResolveReviewCase(ctx, db, logger, d2Case.ID, acme.ID, jane.ID, 7, "again")
	if !errors.Is(err, models.ErrorReviewCaseAlreadyResolved) {
		t.Fatalf("second resolve = %v, want ErrorReviewCaseAlreadyResolved", err)
	}
	// A decision naming a contact from another company is rejected.
	bob, err := models.GetContact(ctx, *d5r.ContactId)
	if err != nil {
		t.Fatalf("load bob: %v", err)
	}
	var d4Case *models.ReviewCase
	for _, rc := range pending {
		if rc.DealId == d4.ID {
			d4Case = rc
		}
	}
	_, err = workflow.ResolveReviewCase(ctx, db, logger, d4Case.ID, acme.ID, bob.ID, 7, "wrong pair")
	if !errors.Is(err, models.ErrorLinkageMismatch) {
		t.Fatalf("mismatched decision = %v, want ErrorLinkageMismatch", err)
	}

	// Storage boundary: partial and mismatched linkage writes never land.
	err = d4.Update(db, ctx, map[string]interface{}{"contact_id": jane.ID})
	if !errors.Is(err, models.ErrorPartialLinkage) {
		t.Fatalf("partial write = %v, want ErrorPartialLinkage", err)
	}
	err = d1r.Update(db, ctx, map[string]interface{}{"company_id": d5r.CompanyId, "contact_id": jane.ID})
	if !errors.Is(err, models.ErrorLinkageMismatch) {
		t.Fatalf("mismatched write = %v, want ErrorLinkageMismatch", err)
	}

	// The audit catches corruption written around the hooks (raw SQL).
	issues, err := models.ValidateAllEntities(ctx, businessID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("audit found %d issues on healthy data", len(issues))
	}
	if err := db.WithContext(ctx).Exec("UPDATE deals SET contact_id = ? WHERE id = ?", bob.ID, d1.ID).Error; err != nil {
		t.Fatalf("corrupt d1: %v", err)
	}
	issues, err = models.ValidateAllEntities(ctx, businessID)
	if err != nil {
		t.Fatalf("audit after corruption: %v", err)
	}
	if len(issues) != 1 || issues[0].DealId != d1.ID || issues[0].Issue != models.AuditIssueContactCompanyMismatch {
		t.Fatalf("audit issues = %+v", issues)
	}
}

func TestFuzzyContactMatching(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "crm_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	biz := &models.Business{Name: "Fuzzy Co", Email: "owner@fuzzy.test"}
	if err := biz.Store(db, ctx); err != nil {
		t.Fatalf("create business: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	company := &models.Company{
		BusinessId:  businessID,
		Name:        "Gamma GmbH",
		Domain:      utils.Ptr("gamma.de"),
		OwnerUserId: 1,
	}
	if err := company.Store(db, ctx); err != nil {
		t.Fatalf("create company: %v", err)
	}

	jane := &models.Contact{
		BusinessId:  businessID,
		CompanyId:   company.ID,
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       utils.Ptr("jane@gamma.de"),
		IsPrimary:   true,
		OwnerUserId: 1,
	}
	if err := jane.Store(db, ctx); err != nil {
		t.Fatalf("create jane: %v", err)
	}

	newDeal := func(name string, contactName, contactEmail string) *models.Deal {
		t.Helper()
		d := &models.Deal{
			BusinessId:   businessID,
			DealName:     name,
			ContactName:  utils.NilIfEmpty(contactName),
			ContactEmail: utils.NilIfEmpty(contactEmail),
			OwnerUserId:  1,
		}
		if err := d.Store(db, ctx); err != nil {
			t.Fatalf("create deal %q: %v", name, err)
		}
		return d
	}

	// A close name variant with an unknown email links to the existing
	// contact instead of minting a near-duplicate.
	d1 := newDeal("Fuzzy hit", "Jane Do", "j.doe@gamma.de")
	report, err := workflow.RunResolution(ctx, db, logger, businessID, "test")
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if report.SuccessCount != 1 {
		t.Fatalf("run 1 counts = %+v", report)
	}
	d1r, err := models.GetDeal(ctx, d1.ID)
	if err != nil {
		t.Fatalf("reload d1: %v", err)
	}
	if d1r.ContactId == nil || *d1r.ContactId != jane.ID {
		t.Fatalf("fuzzy match linked contact %v, want %d", d1r.ContactId, jane.ID)
	}
	var contacts int64
	if err := db.WithContext(ctx).Model(&models.Contact{}).Where("company_id = ?", company.ID).Count(&contacts).Error; err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if contacts != 1 {
		t.Fatalf("contacts = %d, want 1 (no near-duplicate)", contacts)
	}

	// A fuzzy match against a contact without an email enriches it in place.
	noMail := &models.Contact{
		BusinessId:  businessID,
		CompanyId:   company.ID,
		FirstName:   "Victor",
		LastName:    "Stone",
		OwnerUserId: 1,
	}
	if err := noMail.Store(db, ctx); err != nil {
		t.Fatalf("create victor: %v", err)
	}
	d2 := newDeal("Enrichment", "Viktor Stone", "victor@gamma.de")
	if _, err := workflow.RunResolution(ctx, db, logger, businessID, "test"); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	d2r, err := models.GetDeal(ctx, d2.ID)
	if err != nil {
		t.Fatalf("reload d2: %v", err)
	}
	if d2r.ContactId == nil || *d2r.ContactId != noMail.ID {
		t.Fatalf("enrichment match linked contact %v, want %d", d2r.ContactId, noMail.ID)
	}
	enriched, err := models.GetContact(ctx, noMail.ID)
	if err != nil {
		t.Fatalf("reload victor: %v", err)
	}
	if enriched.Email == nil || *enriched.Email != "victor@gamma.de" {
		t.Fatalf("victor email = %v, want victor@gamma.de", enriched.Email)
	}

	// Two candidates within the ambiguity margin of each other go to review
	// with the front-runner suggested.
	front := &models.Contact{
		BusinessId:  businessID,
		CompanyId:   company.ID,
		FirstName:   "Christopher",
		LastName:    "Alexanderssen",
		Email:       utils.Ptr("ca1@gamma.de"),
		OwnerUserId: 1,
	}
	if err := front.Store(db, ctx); err != nil {
		t.Fatalf("create front: %v", err)
	}
	rival := &models.Contact{
		BusinessId:  businessID,
		CompanyId:   company.ID,
		FirstName:   "Christopher",
		LastName:    "Alexanderzzon",
		Email:       utils.Ptr("ca2@gamma.de"),
		OwnerUserId: 1,
	}
	if err := rival.Store(db, ctx); err != nil {
		t.Fatalf("create rival: %v", err)
	}
	d3 := newDeal("Ambiguous", "Christopher Alexandersson", "chris@gamma.de")
	report, err = workflow.RunResolution(ctx, db, logger, businessID, "test")
	if err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if report.ReviewCount != 1 {
		t.Fatalf("run 3 counts = %+v", report)
	}
	cases, err := models.GetReviewCases(ctx, businessID, models.ReviewStatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var d3Case *models.ReviewCase
	for _, rc := range cases {
		if rc.DealId == d3.ID {
			d3Case = rc
		}
	}
	if d3Case == nil {
		t.Fatal("no pending case for ambiguous deal")
	}
	if d3Case.Reason != models.ReviewReasonFuzzyMatchUncertainty {
		t.Fatalf("reason = %s", d3Case.Reason)
	}
	if d3Case.SuggestedContactId == nil || *d3Case.SuggestedContactId != front.ID {
		t.Fatalf("suggested contact = %v, want %d", d3Case.SuggestedContactId, front.ID)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("crm-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=crm_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
