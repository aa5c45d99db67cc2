package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"fuelalert/internal/db/dbtest"
	"fuelalert/internal/models"
)

func TestCreateWithDevice(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(dbtest.Open(t))

	u, d, err := users.CreateWithDevice(ctx, NewAccount{
		Email: "a@x.com", PasswordHash: "h", APIKey: "key-1", DeviceName: models.DefaultDeviceName,
	})
	if err != nil {
		t.Fatalf("CreateWithDevice: %v", err)
	}
	if d.UserID != u.ID {
		t.Errorf("device user id = %d, want %d", d.UserID, u.ID)
	}
	if want := models.DeviceCode(u.ID); d.Code != want {
		t.Errorf("device code = %q, want %q", d.Code, want)
	}

	_, _, err = users.CreateWithDevice(ctx, NewAccount{Email: "a@x.com", PasswordHash: "h", APIKey: "key-2"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second registration err = %v, want ErrEmailTaken", err)
	}
}

func TestCreateWithDeviceRollsBackUser(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	users := NewUserStore(gdb)

	if _, _, err := users.CreateWithDevice(ctx, NewAccount{Email: "a@x.com", PasswordHash: "h", APIKey: "same"}); err != nil {
		t.Fatal(err)
	}
	// коллизия api_key падает на вставке устройства, пользователь не должен остаться
	if _, _, err := users.CreateWithDevice(ctx, NewAccount{Email: "b@x.com", PasswordHash: "h", APIKey: "same"}); err == nil {
		t.Fatal("expected device insert failure")
	}
	if _, err := users.GetByEmail(ctx, "b@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user b should not exist, got err=%v", err)
	}

	var nUsers, nDevices int64
	gdb.Model(&models.User{}).Count(&nUsers)
	gdb.Model(&models.Device{}).Count(&nDevices)
	if nUsers != nDevices {
		t.Errorf("users=%d devices=%d, want equal", nUsers, nDevices)
	}
}

func TestCreateWithDeviceConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	users := NewUserStore(gdb)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
		other    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := users.CreateWithDevice(ctx, NewAccount{
				Email: "race@x.com", PasswordHash: "h", APIKey: fmt.Sprintf("key-%d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrEmailTaken):
				dups++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if ok != 1 || dups != n-1 {
		t.Fatalf("ok=%d dups=%d, want 1 and %d", ok, dups, n-1)
	}
	var nDevices int64
	gdb.Model(&models.Device{}).Count(&nDevices)
	if nDevices != 1 {
		t.Errorf("devices = %d, want 1", nDevices)
	}
}

func TestDeviceLookups(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	users, devices := NewUserStore(gdb), NewDeviceStore(gdb)

	u, d, err := users.CreateWithDevice(ctx, NewAccount{Email: "a@x.com", PasswordHash: "h", APIKey: "abcdef"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := devices.ByAPIKey(ctx, "abcdef")
	if err != nil || got.ID != d.ID {
		t.Fatalf("ByAPIKey = %v, %v", got, err)
	}
	if _, err := devices.ByAPIKey(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("prefix of key must not match, err=%v", err)
	}
	if got, err := devices.ByUserID(ctx, u.ID); err != nil || got.Code != d.Code {
		t.Errorf("ByUserID = %v, %v", got, err)
	}
	if _, err := devices.ByUserID(ctx, u.ID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByUserID unknown err=%v", err)
	}
}

func TestSignalLatestByDeviceTime(t *testing.T) {
	ctx := context.Background()
	signals := NewSignalStore(dbtest.Open(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := signals.Latest(ctx, "DEV_0001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty Latest err=%v, want ErrNotFound", err)
	}

	// вставляем не по порядку: важен время устройства, а не порядок прихода
	for _, off := range []time.Duration{2 * time.Minute, 5 * time.Minute, time.Minute} {
		rec := &models.SignalRecord{DeviceCode: "DEV_0001", Lat: 1, Lon: 2, SoC: 40, Time: base.Add(off), ReceivedAt: base}
		if err := signals.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := signals.Latest(ctx, "DEV_0001")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Time.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("latest time = %s, want %s", latest.Time, base.Add(5*time.Minute))
	}
}

func TestTargetReplaceAndLatest(t *testing.T) {
	ctx := context.Background()
	targets := NewTargetStore(dbtest.Open(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := targets.Latest(ctx, "DEV_0001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty cache err=%v", err)
	}

	first := []models.CachedTarget{{Name: "A", Lat: 1, Lon: 1}, {Name: "B", Lat: 2, Lon: 2}}
	if err := targets.Replace(ctx, "DEV_0001", first, now); err != nil {
		t.Fatal(err)
	}
	second := []models.CachedTarget{{Name: "C", Lat: 3, Lon: 3, Vicinity: "Main st"}}
	if err := targets.Replace(ctx, "DEV_0001", second, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	got, err := targets.Latest(ctx, "DEV_0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "C" || got[0].Vicinity != "Main st" {
		t.Fatalf("latest = %+v, want only C", got)
	}

	// пустой результат поиска очищает кэш
	if err := targets.Replace(ctx, "DEV_0001", nil, now.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := targets.Latest(ctx, "DEV_0001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after empty replace err=%v, want ErrNotFound", err)
	}
}

func TestTargetReplaceIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	targets := NewTargetStore(dbtest.Open(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const generations = 40
	sizes := make(map[int64]int, generations)
	gen := func(i int) (time.Time, []models.CachedTarget) {
		at := base.Add(time.Duration(i) * time.Second)
		rows := make([]models.CachedTarget, i%4+1)
		for j := range rows {
			rows[j] = models.CachedTarget{Name: fmt.Sprintf("g%d-%d", i, j), Lat: float64(i), Lon: float64(j)}
		}
		return at, rows
	}
	for i := 0; i < generations; i++ {
		at, rows := gen(i)
		sizes[at.UnixNano()] = len(rows)
	}

	at0, rows0 := gen(0)
	if err := targets.Replace(ctx, "DEV_0001", rows0, at0); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var writerErr error
	go func() {
		defer close(done)
		for i := 1; i < generations; i++ {
			at, rows := gen(i)
			if err := targets.Replace(ctx, "DEV_0001", rows, at); err != nil {
				writerErr = err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				rows, err := targets.Latest(ctx, "DEV_0001")
				if err != nil {
					errs <- fmt.Errorf("reader saw %v", err)
					return
				}
				stamp := rows[0].CachedAt
				for _, row := range rows {
					if !row.CachedAt.Equal(stamp) {
						errs <- fmt.Errorf("mixed generations: %s and %s", stamp, row.CachedAt)
						return
					}
				}
				if want := sizes[stamp.UnixNano()]; len(rows) != want {
					errs <- fmt.Errorf("generation %s has %d rows, want %d", stamp, len(rows), want)
					return
				}
			}
		}()
	}
	wg.Wait()
	<-done
	close(errs)

	if writerErr != nil {
		t.Fatalf("writer: %v", writerErr)
	}
	for err := range errs {
		t.Error(err)
	}
}

func TestPurgeBeforeBoundary(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	signals, targets := NewSignalStore(gdb), NewTargetStore(gdb)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-24 * time.Hour)
	ages := map[string]time.Time{
		"DEV_0001": cutoff.Add(-time.Second), // старше окна: удаляется
		"DEV_0002": cutoff,                   // ровно 24ч: остаётся
		"DEV_0003": cutoff.Add(time.Second),  // моложе: остаётся
	}
	for code, at := range ages {
		rec := &models.SignalRecord{DeviceCode: code, SoC: 10, Time: at, ReceivedAt: at}
		if err := signals.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if err := targets.Replace(ctx, code, []models.CachedTarget{{Name: "S", Lat: 1, Lon: 1}}, at); err != nil {
			t.Fatal(err)
		}
	}

	n, err := signals.PurgeBefore(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("signals purged = %d, %v; want 1", n, err)
	}
	n, err = targets.PurgeBefore(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("targets purged = %d, %v; want 1", n, err)
	}

	if _, err := signals.Latest(ctx, "DEV_0001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DEV_0001 signal should be purged, err=%v", err)
	}
	if _, err := targets.Latest(ctx, "DEV_0001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DEV_0001 cache should be purged, err=%v", err)
	}
	for _, code := range []string{"DEV_0002", "DEV_0003"} {
		if _, err := signals.Latest(ctx, code); err != nil {
			t.Errorf("%s signal should remain: %v", code, err)
		}
		if _, err := targets.Latest(ctx, code); err != nil {
			t.Errorf("%s cache should remain: %v", code, err)
		}
	}
}

func TestIsDuplicateOnUniqueIndexes(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)

	if err := gdb.WithContext(ctx).Create(&models.User{Email: "a@x.com", PasswordHash: "h"}).Error; err != nil {
		t.Fatal(err)
	}
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models.User{Email: "a@x.com", PasswordHash: "h2"}).Error
	})
	if err == nil {
		t.Fatal("duplicate email inserted")
	}
	if !isDuplicate(err) {
		t.Errorf("isDuplicate(%v) = false for email index", err)
	}

	var u models.User
	if err := gdb.Where("email = ?", "a@x.com").First(&u).Error; err != nil {
		t.Fatal(err)
	}
	if err := gdb.Create(&models.Device{UserID: u.ID, Code: models.DeviceCode(u.ID), Name: models.DefaultDeviceName, APIKey: "k"}).Error; err != nil {
		t.Fatal(err)
	}
	other := models.User{Email: "b@x.com", PasswordHash: "h"}
	if err := gdb.Create(&other).Error; err != nil {
		t.Fatal(err)
	}
	err = gdb.Create(&models.Device{UserID: other.ID, Code: models.DeviceCode(other.ID), Name: models.DefaultDeviceName, APIKey: "k"}).Error
	if err == nil || !isDuplicate(err) {
		t.Errorf("isDuplicate for api_key index: err=%v", err)
	}

	if isDuplicate(errors.New("disk I/O error")) {
		t.Error("unrelated error classified as duplicate")
	}
}
