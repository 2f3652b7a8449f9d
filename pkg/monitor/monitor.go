package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 组件状态
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

// CheckFunc 组件探活函数
type CheckFunc func(ctx context.Context) error

// Monitor 组件健康登记表
type Monitor struct {
	components map[string]*HealthStatus
	mutex      sync.RWMutex
	alertFunc  func(component, status, message string)
	client     *http.Client
}

// NewMonitor 创建新的监控系统
func NewMonitor(alertFunc func(component, status, message string)) *Monitor {
	return &Monitor{
		components: make(map[string]*HealthStatus),
		alertFunc:  alertFunc,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// RegisterComponent 注册组件
func (m *Monitor) RegisterComponent(component string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.components[component] = &HealthStatus{
		Component:   component,
		Status:      StatusUnknown,
		LastChecked: time.Now(),
	}
}

// UpdateStatus 更新组件状态
func (m *Monitor) UpdateStatus(component, status, message string) {
	m.mutex.Lock()
	current, exists := m.components[component]
	if !exists {
		current = &HealthStatus{Component: component}
		m.components[component] = current
	}

	oldStatus := current.Status
	current.Status = status
	current.LastChecked = time.Now()
	current.Message = message
	m.mutex.Unlock()

	// 如果状态变为不健康，触发告警
	if oldStatus != status && status != StatusHealthy && m.alertFunc != nil {
		m.alertFunc(component, status, message)
	}
}

// GetStatus 获取组件状态快照
func (m *Monitor) GetStatus(component string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if status, exists := m.components[component]; exists {
		copied := *status
		return &copied
	}
	return nil
}

// GetAllStatus 获取所有组件状态
func (m *Monitor) GetAllStatus() []HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, *status)
	}
	return statuses
}

// Ready 所有已注册组件均健康
func (m *Monitor) Ready() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, status := range m.components {
		if status.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// Check 执行探活函数并记录结果
func (m *Monitor) Check(ctx context.Context, component string, check CheckFunc) {
	if err := check(ctx); err != nil {
		m.UpdateStatus(component, StatusUnhealthy, err.Error())
		return
	}
	m.UpdateStatus(component, StatusHealthy, "")
}

// CheckHTTPEndpoint 检查HTTP端点健康状态
func (m *Monitor) CheckHTTPEndpoint(ctx context.Context, component, url string) {
	m.Check(ctx, component, m.HTTPCheck(url))
}

// StartChecking 按间隔执行探活，ctx 取消后退出
func (m *Monitor) StartChecking(ctx context.Context, component string, interval time.Duration, check CheckFunc, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.Check(ctx, component, check)
		for {
			select {
			case <-ctx.Done():
				log.Debug("停止组件探活", zap.String("component", component))
				return
			case <-ticker.C:
				m.Check(ctx, component, check)
			}
		}
	}()
}

// HTTPCheck 将 HTTP 端点包装为探活函数
func (m *Monitor) HTTPCheck(url string) CheckFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("构造请求失败: %w", err)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP请求失败: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HTTP状态码非200: %d", resp.StatusCode)
		}
		return nil
	}
}
