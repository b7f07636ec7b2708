package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

func TestSaveRawInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	rec := notice.RawRecord{
		ID:          "uuid-v7",
		District:    notice.Haeundae,
		URL:         "https://www.haeundae.go.kr/board/view.do?idx=1",
		RawText:     "고인 김철수",
		Fingerprint: "abc123",
		CapturedAt:  now,
	}

	mock.ExpectExec("INSERT INTO raw_notices").
		WithArgs(rec.ID, rec.District, rec.URL, rec.RawText, rec.Fingerprint, rec.CapturedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRaw(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawFingerprintsScansPerDistrict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	rows := pgxmock.NewRows([]string{"fingerprint"}).
		AddRow("fp-1").
		AddRow("fp-2")
	mock.ExpectQuery("SELECT fingerprint FROM raw_notices").
		WithArgs(notice.Saha).
		WillReturnRows(rows)

	got, err := store.RawFingerprints(context.Background(), notice.Saha)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"fp-1": true, "fp-2": true}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnanalyzedRawUsesAntiJoin(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"id", "district", "url", "raw_text", "fingerprint", "captured_at"}).
		AddRow("raw-1", notice.Bukgu, "https://www.bukgu.busan.kr/board/view.do?idx=7", "부고", "fp-1", now)
	mock.ExpectQuery("LEFT JOIN analyzed_notices").
		WillReturnRows(rows)

	got, err := store.UnanalyzedRaw(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "raw-1", got[0].ID)
	require.Equal(t, notice.Bukgu, got[0].District)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnalyzedMarshalsFields(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	rec := notice.AnalyzedRecord{
		ID:         "an-1",
		RawID:      "raw-1",
		District:   notice.Junggu,
		URL:        "https://www.bsjunggu.go.kr/board/view.do?idx=3",
		Fields:     notice.NoticeFields{Name: "김철수", FuneralPlace: "부산장례식장"},
		Status:     notice.AnalysisOK,
		AnalyzedAt: now,
	}

	mock.ExpectExec("INSERT INTO analyzed_notices").
		WithArgs(rec.ID, rec.RawID, rec.District, rec.URL,
			[]byte(`{"name":"김철수","funeral_place":"부산장례식장"}`),
			rec.Status, rec.AnalyzedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveAnalyzed(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsentAnalyzedFiltersNeedsReview(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"id", "raw_id", "district", "url", "fields", "status", "analyzed_at"}).
		AddRow("an-1", "raw-1", notice.Namgu, "https://www.bsnamgu.go.kr/board/view.do?idx=9",
			[]byte(`{"name":"이영희"}`), notice.AnalysisOK, now)
	mock.ExpectQuery("LEFT JOIN sent_notices").
		WithArgs(notice.AnalysisNeedsReview).
		WillReturnRows(rows)

	got, err := store.UnsentAnalyzed(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "이영희", got[0].Fields.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSentMarshalsChannels(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	rec := notice.SentRecord{
		ID:         "sent-1",
		AnalyzedID: "an-1",
		ChannelIDs: []string{"-100200", "-100999"},
		SentAt:     now,
	}

	mock.ExpectExec("INSERT INTO sent_notices").
		WithArgs(rec.ID, rec.AnalyzedID, []byte(`["-100200","-100999"]`), rec.SentAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSent(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupDuplicateSentReportsAffected(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectExec("DELETE FROM sent_notices s").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.CleanupDuplicateSent(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
