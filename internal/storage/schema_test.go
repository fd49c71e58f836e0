package storage

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaKeepsUnreportedAlertKeyUnique(t *testing.T) {
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "UNIQUE INDEX") && strings.Contains(stmt, "WHERE NOT is_reported") {
			return
		}
	}
	t.Fatal("未报告告警键缺少唯一索引约束")
}

func TestAlertEventSerializesSnakeCase(t *testing.T) {
	raw, err := json.Marshal(AlertEvent{AgencyCode: "AG-001", Kind: AlertThreshold})
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, `"agency_code":"AG-001"`) {
		t.Fatalf("字段应为 snake_case: %s", body)
	}
	if strings.Contains(body, "AgencyCode") {
		t.Fatalf("不应暴露 Go 字段名: %s", body)
	}
	if strings.Contains(body, "reported_at") {
		t.Fatalf("空指针字段应省略: %s", body)
	}
}
