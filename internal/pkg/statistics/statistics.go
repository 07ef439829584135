package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/cache"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/database"
)

const (
	CacheKeyUsers         = "statistics:users:total"
	CacheKeyActiveSubs    = "statistics:subscriptions:active"
	CacheKeyInvoicesTotal = "statistics:invoices:total"
	CacheKeyInvoicesDaily = "statistics:invoices:daily:%s" // Format with date YYYY-MM-DD
	CacheKeyRevenueCents  = "statistics:revenue:total_cents"
	CacheExpiration       = 30 * time.Minute
)

// StatisticsData enthält die Kennzahlen für das Admin-Dashboard
type StatisticsData struct {
	TotalUsers          int
	ActiveSubscriptions int
	TotalInvoices       int
	TodayInvoices       int
	TotalRevenueCents   int64
}

// Variablen für die Cache-Aktualisierungslogik
var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute // Aktualisiere den Cache alle 5 Minuten
)

// ShouldUpdateCache prüft, ob der Cache aktualisiert werden sollte
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	// Wenn der letzte Update länger als das Intervall zurückliegt, sollte der Cache aktualisiert werden
	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded aktualisiert den Cache, wenn nötig
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		// Aktualisiere den Cache
		log.Println("Aktualisiere Statistik-Cache...")
		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Fehler beim Aktualisieren des Statistik-Caches: %v", err)
		} else {
			log.Println("Statistik-Cache erfolgreich aktualisiert")
			// Aktualisiere den Zeitstempel des letzten Updates
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer setzt den Timer für die Cache-Aktualisierung zurück
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{} // Setze auf Null-Zeit
}

// UpdateStatisticsCache updates all statistics in the cache
func UpdateStatisticsCache() error {
	// Get database connection
	db := database.GetDB()

	// Count total users
	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("Error counting total users: %v", err)
		return err
	}

	// Count active subscriptions (trialing counts as active entitlement)
	var activeSubs int64
	if err := db.Model(&models.Subscription{}).
		Where("status IN ?", []string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
		Count(&activeSubs).Error; err != nil {
		log.Printf("Error counting active subscriptions: %v", err)
		return err
	}

	// Count paid invoices
	var totalInvoices int64
	if err := db.Model(&models.Invoice{}).Count(&totalInvoices).Error; err != nil {
		log.Printf("Error counting invoices: %v", err)
		return err
	}

	// Count today's invoices
	var todayInvoices int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.Invoice{}).Where("issued_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todayInvoices).Error; err != nil {
		log.Printf("Error counting today's invoices: %v", err)
		return err
	}

	// Sum lifetime revenue
	var revenueCents int64
	if err := db.Model(&models.Invoice{}).
		Where("status = ?", models.InvoiceStatusPaid).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&revenueCents).Error; err != nil {
		log.Printf("Error summing revenue: %v", err)
		return err
	}

	// Store values in cache
	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total users: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyActiveSubs, strconv.FormatInt(activeSubs, 10), CacheExpiration); err != nil {
		log.Printf("Error caching active subscriptions: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyInvoicesTotal, strconv.FormatInt(totalInvoices, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total invoices: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyInvoicesDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayInvoices, 10), CacheExpiration); err != nil {
		log.Printf("Error caching today's invoices: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyRevenueCents, strconv.FormatInt(revenueCents, 10), CacheExpiration); err != nil {
		log.Printf("Error caching revenue: %v", err)
		return err
	}

	log.Printf("Statistics updated in cache: Users: %d, Active Subscriptions: %d, Invoices: %d, Revenue: %d cents",
		totalUsers, activeSubs, totalInvoices, revenueCents)

	return nil
}

// GetTotalUsers returns the total number of users from cache or database
func GetTotalUsers() int {
	return int(cachedCount(CacheKeyUsers, func(count *int64) error {
		return database.GetDB().Model(&models.User{}).Count(count).Error
	}))
}

// GetActiveSubscriptions returns the number of active subscriptions from cache or database
func GetActiveSubscriptions() int {
	return int(cachedCount(CacheKeyActiveSubs, func(count *int64) error {
		return database.GetDB().Model(&models.Subscription{}).
			Where("status IN ?", []string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
			Count(count).Error
	}))
}

// GetTotalInvoices returns the total number of invoices from cache or database
func GetTotalInvoices() int {
	return int(cachedCount(CacheKeyInvoicesTotal, func(count *int64) error {
		return database.GetDB().Model(&models.Invoice{}).Count(count).Error
	}))
}

// GetTodayInvoices returns the number of invoices issued today from cache or database
func GetTodayInvoices() int {
	today := time.Now().Format("2006-01-02")
	dailyKey := fmt.Sprintf(CacheKeyInvoicesDaily, today)

	return int(cachedCount(dailyKey, func(count *int64) error {
		todayStart, _ := time.Parse("2006-01-02", today)
		todayEnd := todayStart.Add(24 * time.Hour)
		return database.GetDB().Model(&models.Invoice{}).
			Where("issued_at BETWEEN ? AND ?", todayStart, todayEnd).
			Count(count).Error
	}))
}

// GetTotalRevenueCents returns the lifetime paid revenue from cache or database
func GetTotalRevenueCents() int64 {
	return cachedCount(CacheKeyRevenueCents, func(count *int64) error {
		return database.GetDB().Model(&models.Invoice{}).
			Where("status = ?", models.InvoiceStatusPaid).
			Select("COALESCE(SUM(amount_cents), 0)").
			Scan(count).Error
	})
}

// cachedCount reads a numeric statistic from the cache and falls back to the
// database, refreshing the cache on the way.
func cachedCount(key string, load func(*int64) error) int64 {
	val, err := cache.Get(key)
	if err == nil {
		count, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			return count
		}
	}

	var count int64
	if err := load(&count); err != nil {
		log.Printf("Error loading statistic %s: %v", key, err)
		return 0
	}

	if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
		log.Printf("Error caching statistic %s: %v", key, err)
	}

	return count
}

// GetStatisticsData returns all statistics data as StatisticsData structure
func GetStatisticsData() StatisticsData {
	// Aktualisiere den Cache bei Bedarf
	UpdateCacheIfNeeded()

	return StatisticsData{
		TotalUsers:          GetTotalUsers(),
		ActiveSubscriptions: GetActiveSubscriptions(),
		TotalInvoices:       GetTotalInvoices(),
		TodayInvoices:       GetTodayInvoices(),
		TotalRevenueCents:   GetTotalRevenueCents(),
	}
}
