package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

// mysqlErrDupEntry is ER_DUP_ENTRY, raised on a unique-key violation.
const mysqlErrDupEntry = 1062

// Row is one result row, keyed by lower-cased column name - same shape as
// instance.Row, kept as its own type so callers of this package never need
// to import instance just to read a query result.
type Row map[string]sql.RawBytes

// Storage wraps a session already connected to the catalog schema
// (mysql_innodb_cluster_metadata) and exposes typed CRUD over every
// entity in the data model.
type Storage struct {
	sess *instance.Instance
}

// New wraps sess, an already-open session to the instance hosting the
// catalog schema.
func New(sess *instance.Instance) *Storage {
	return &Storage{sess: sess}
}

func (s *Storage) rows(ctx context.Context, query string) ([]instance.Row, error) {
	return s.sess.Query(ctx, query)
}

// Begin opens a metadata transaction. Every multi-row write belongs
// inside one, per §4.3.
func (s *Storage) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := s.sess.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{tx: tx}, nil
}

func attrsToJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func jsonToAttrs(raw sql.RawBytes) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

// checkUnique enforces the §3 uniqueness invariants ahead of an insert,
// so violations surface as the documented DBA_BADARG_* codes instead of
// a raw driver duplicate-key error.
func (s *Storage) checkUnique(ctx context.Context, tx *Transaction, uuid, endpoint string) error {
	rows, err := tx.tx.Query(ctx, fmt.Sprintf(
		`select instance_id from %s.instances where mysql_server_uuid = %s`,
		SchemaName, quote(uuid)))
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return dbaerr.New(dbaerr.CodeBadArgDuplicateUUID, "an instance with this server UUID is already registered")
	}
	rows, err = tx.tx.Query(ctx, fmt.Sprintf(
		`select instance_id from %s.instances where json_search(addresses, 'one', %s) is not null`,
		SchemaName, quote(endpoint)))
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return dbaerr.New(dbaerr.CodeBadArgDuplicateAddress, "an instance with this address is already registered")
	}
	return nil
}

func quote(s string) string {
	return "'" + escapeQuotes(s) + "'"
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// CreateCluster inserts a new clusters row inside tx.
func (s *Storage) CreateCluster(ctx context.Context, tx *Transaction, c Cluster) error {
	_, err := tx.tx.Execute(ctx,
		fmt.Sprintf(`insert into %s.clusters
			(cluster_id, cluster_name, cluster_type, topology_type, group_name, cluster_set_id, attributes)
			values (?, ?, ?, ?, ?, ?, ?)`, SchemaName),
		c.ClusterID, c.Name, c.Type, c.TopologyType, c.GroupName, nullableString(c.ClusterSetID), attrsToJSON(c.Attributes))
	if err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`delete from %s.clusters where cluster_id = ?`, SchemaName), c.ClusterID)
	return nil
}

// GetCluster fetches a cluster by id.
func (s *Storage) GetCluster(ctx context.Context, clusterID string) (*Cluster, error) {
	rows, err := s.rows(ctx, fmt.Sprintf(
		`select cluster_id, cluster_name, cluster_type, topology_type, group_name, cluster_set_id, attributes
			from %s.clusters where cluster_id = %s`, SchemaName, quote(clusterID)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dbaerr.New(dbaerr.CodeMetadataInfoMissing, "no such cluster in metadata: "+clusterID)
	}
	return rowToCluster(rows[0]), nil
}

func rowToCluster(r instance.Row) *Cluster {
	return &Cluster{
		ClusterID:    string(r["cluster_id"]),
		Name:         string(r["cluster_name"]),
		Type:         ClusterType(r["cluster_type"]),
		TopologyType: TopologyType(r["topology_type"]),
		GroupName:    string(r["group_name"]),
		ClusterSetID: string(r["cluster_set_id"]),
		Attributes:   jsonToAttrs(r["attributes"]),
	}
}

// SetTopologyType updates a cluster's recorded topology mode. Per the
// §4.3 write invariant, callers must only commit this in the same
// transaction as the server-side mode change it describes.
func (s *Storage) SetTopologyType(ctx context.Context, tx *Transaction, clusterID string, t TopologyType) error {
	prev, err := s.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`update %s.clusters set topology_type = ? where cluster_id = ?`, SchemaName),
		string(t), clusterID); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`update %s.clusters set topology_type = ? where cluster_id = ?`, SchemaName),
		string(prev.TopologyType), clusterID)
	return nil
}

// AddInstance inserts an instance row, enforcing uniqueness on both the
// server UUID and every address.
func (s *Storage) AddInstance(ctx context.Context, tx *Transaction, inst Instance) error {
	if err := s.checkUnique(ctx, tx, inst.UUID, inst.Endpoint); err != nil {
		return err
	}
	addrs := map[string]string{"mysqlClassic": inst.Endpoint}
	if inst.XEndpoint != "" {
		addrs["mysqlX"] = inst.XEndpoint
	}
	if inst.GREndpoint != "" {
		addrs["grLocal"] = inst.GREndpoint
	}
	addrJSON, _ := json.Marshal(addrs)

	_, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`insert into %s.instances
			(cluster_id, mysql_server_uuid, instance_name, addresses, attributes, primary_master)
			values (?, ?, ?, ?, ?, ?)`, SchemaName),
		inst.ClusterID, inst.UUID, inst.Label, string(addrJSON), attrsToJSON(inst.Tags), inst.PrimaryMaster)
	if err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`delete from %s.instances where mysql_server_uuid = ?`, SchemaName), inst.UUID)
	return nil
}

// SetPrimaryMaster atomically flips primary_master: true on
// newPrimaryUUID and false on every other instance in clusterID, the
// metadata half of Set Primary - committed in the same transaction as
// the server-side GR UDF call that actually moves the role.
func (s *Storage) SetPrimaryMaster(ctx context.Context, tx *Transaction, clusterID, newPrimaryUUID string) error {
	prior, err := s.ListInstances(ctx, clusterID)
	if err != nil {
		return err
	}
	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`update %s.instances set primary_master = false where cluster_id = ?`, SchemaName), clusterID); err != nil {
		return classifyWriteError(err)
	}
	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`update %s.instances set primary_master = true where mysql_server_uuid = ?`, SchemaName), newPrimaryUUID); err != nil {
		return classifyWriteError(err)
	}
	for _, p := range prior {
		if p.PrimaryMaster {
			tx.pushUndo(fmt.Sprintf(`update %s.instances set primary_master = true where mysql_server_uuid = ?`, SchemaName), p.UUID)
		}
	}
	tx.pushUndo(fmt.Sprintf(`update %s.instances set primary_master = false where mysql_server_uuid = ?`, SchemaName), newPrimaryUUID)
	return nil
}

// DeleteCluster deletes a cluster row. Callers must have already removed
// every instance row referencing it inside the same transaction, per the
// instances table's foreign key on cluster_id.
func (s *Storage) DeleteCluster(ctx context.Context, tx *Transaction, clusterID string) error {
	prev, err := s.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`delete from %s.clusters where cluster_id = ?`, SchemaName), clusterID); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`insert into %s.clusters
			(cluster_id, cluster_name, cluster_type, topology_type, group_name, cluster_set_id, attributes)
			values (?, ?, ?, ?, ?, ?, ?)`, SchemaName),
		prev.ClusterID, prev.Name, prev.Type, prev.TopologyType, prev.GroupName, nullableString(prev.ClusterSetID), attrsToJSON(prev.Attributes))
	return nil
}

// GetInstance fetches a single instance row by server UUID.
func (s *Storage) GetInstance(ctx context.Context, uuid string) (*Instance, error) {
	rows, err := s.rows(ctx, fmt.Sprintf(
		`select instance_id, cluster_id, mysql_server_uuid, instance_name, addresses, attributes, primary_master
			from %s.instances where mysql_server_uuid = %s`, SchemaName, quote(uuid)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dbaerr.New(dbaerr.CodeMemberMetadataMissing, "no such instance in metadata: "+uuid)
	}
	inst := rowToInstance(rows[0])
	return &inst, nil
}

// RemoveInstance deletes an instance row by UUID.
func (s *Storage) RemoveInstance(ctx context.Context, tx *Transaction, uuid string) error {
	rows, err := s.rows(ctx, fmt.Sprintf(
		`select cluster_id, instance_name, addresses, attributes from %s.instances where mysql_server_uuid = %s`,
		SchemaName, quote(uuid)))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return dbaerr.New(dbaerr.CodeMemberMetadataMissing, "no such instance in metadata: "+uuid)
	}
	prev := rows[0]

	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`delete from %s.instances where mysql_server_uuid = ?`, SchemaName), uuid); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(
		`insert into %s.instances (cluster_id, mysql_server_uuid, instance_name, addresses, attributes)
			values (?, ?, ?, ?, ?)`, SchemaName),
		string(prev["cluster_id"]), uuid, string(prev["instance_name"]), string(prev["addresses"]), string(prev["attributes"]))
	return nil
}

// ListInstances returns every instance row belonging to clusterID.
func (s *Storage) ListInstances(ctx context.Context, clusterID string) ([]Instance, error) {
	rows, err := s.rows(ctx, fmt.Sprintf(
		`select instance_id, cluster_id, mysql_server_uuid, instance_name, addresses, attributes, primary_master
			from %s.instances where cluster_id = %s order by instance_id`, SchemaName, quote(clusterID)))
	if err != nil {
		return nil, err
	}
	out := make([]Instance, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToInstance(r))
	}
	return out, nil
}

func rowToInstance(r instance.Row) Instance {
	addrs := map[string]string{}
	_ = json.Unmarshal(r["addresses"], &addrs)
	id, _ := parseInt64(string(r["instance_id"]))
	return Instance{
		InstanceID:    id,
		ClusterID:     string(r["cluster_id"]),
		UUID:          string(r["mysql_server_uuid"]),
		Label:         string(r["instance_name"]),
		Endpoint:      addrs["mysqlClassic"],
		XEndpoint:     addrs["mysqlX"],
		GREndpoint:    addrs["grLocal"],
		Tags:          jsonToAttrs(r["attributes"]),
		PrimaryMaster: string(r["primary_master"]) == "1",
	}
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// UpsertRouter records or refreshes a router's check-in row.
func (s *Storage) UpsertRouter(ctx context.Context, r Router) error {
	_, err := s.sess.Execute(ctx, fmt.Sprintf(
		`insert into %s.routers (router_name, product_name, address, version, last_check_in, cluster_id)
			values (?, 'MySQL Router', ?, ?, now(), ?)
			on duplicate key update version = values(version), last_check_in = now(), cluster_id = values(cluster_id)`,
		SchemaName),
		r.Name, r.Hostname, r.Version, nullableString(r.TargetCluster))
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// CreateClusterSet inserts a new clustersets row plus its founding
// clusterset_members row, marking originClusterID as PRIMARY.
func (s *Storage) CreateClusterSet(ctx context.Context, tx *Transaction, cs ClusterSet, originClusterID string) error {
	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`insert into %s.clustersets (clusterset_id, domain_name) values (?, ?)`, SchemaName),
		cs.ClusterSetID, cs.DomainName); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`delete from %s.clustersets where clusterset_id = ?`, SchemaName), cs.ClusterSetID)

	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`insert into %s.clusterset_members (clusterset_id, cluster_id, master_cluster_id, primary_cluster)
			values (?, ?, ?, true)`, SchemaName),
		cs.ClusterSetID, originClusterID, originClusterID); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`delete from %s.clusterset_members where cluster_id = ?`, SchemaName), originClusterID)

	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`update %s.clusters set cluster_set_id = ? where cluster_id = ?`, SchemaName),
		cs.ClusterSetID, originClusterID); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`update %s.clusters set cluster_set_id = null where cluster_id = ?`, SchemaName), originClusterID)
	return nil
}

// SwitchPrimaryCluster atomically moves PRIMARY to newPrimaryClusterID and
// marks every other member cluster invalidated, bumping the
// clusterset_views generation in the same transaction so readers always
// observe either the pre- or post-switch view, per §4.3.
func (s *Storage) SwitchPrimaryCluster(ctx context.Context, tx *Transaction, clusterSetID, newPrimaryClusterID string, viewID int64, viewJSON string) error {
	members, err := s.ListClusterSetMembers(ctx, clusterSetID)
	if err != nil {
		return err
	}
	for _, m := range members {
		wasPrimary := m.PrimaryCluster
		wasInvalidated := m.Invalidated
		nowPrimary := m.ClusterID == newPrimaryClusterID
		nowInvalidated := !nowPrimary

		if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
			`update %s.clusterset_members set primary_cluster = ?, invalidated = ? where cluster_id = ?`, SchemaName),
			nowPrimary, nowInvalidated, m.ClusterID); err != nil {
			return classifyWriteError(err)
		}
		tx.pushUndo(fmt.Sprintf(
			`update %s.clusterset_members set primary_cluster = ?, invalidated = ? where cluster_id = ?`, SchemaName),
			wasPrimary, wasInvalidated, m.ClusterID)
	}

	if _, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`insert into %s.clusterset_views (clusterset_id, view_id, view, view_change_reason)
			values (?, ?, ?, 'primary_switch')`, SchemaName),
		clusterSetID, viewID, viewJSON); err != nil {
		return classifyWriteError(err)
	}
	tx.pushUndo(fmt.Sprintf(`delete from %s.clusterset_views where clusterset_id = ? and view_id = ?`, SchemaName),
		clusterSetID, viewID)
	return nil
}

// ListClusterSetMembers returns every member cluster of a ClusterSet.
func (s *Storage) ListClusterSetMembers(ctx context.Context, clusterSetID string) ([]ClusterSetMember, error) {
	rows, err := s.rows(ctx, fmt.Sprintf(
		`select clusterset_id, cluster_id, master_cluster_id, primary_cluster, invalidated
			from %s.clusterset_members where clusterset_id = %s`, SchemaName, quote(clusterSetID)))
	if err != nil {
		return nil, err
	}
	out := make([]ClusterSetMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, ClusterSetMember{
			ClusterSetID:    string(r["clusterset_id"]),
			ClusterID:       string(r["cluster_id"]),
			MasterClusterID: string(r["master_cluster_id"]),
			PrimaryCluster:  string(r["primary_cluster"]) == "1",
			Invalidated:     string(r["invalidated"]) == "1",
		})
	}
	return out, nil
}

// SetRecoveryAccount records the recovery user assigned to instanceUUID.
func (s *Storage) SetRecoveryAccount(ctx context.Context, tx *Transaction, a RecoveryAccount) error {
	_, err := tx.tx.Execute(ctx, fmt.Sprintf(
		`update %s.instances
			set attributes = json_set(coalesce(attributes, '{}'), '$.recoveryAccountUser', ?, '$.recoveryAccountHost', ?)
			where mysql_server_uuid = ?`, SchemaName),
		a.User, a.Host, a.InstanceUUID)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// SetRecoveryAccountAutocommit is SetRecoveryAccount wrapped in its own
// transaction, for callers that only need this one write and aren't
// already composing it into a larger undo-logged change.
func (s *Storage) SetRecoveryAccountAutocommit(ctx context.Context, a RecoveryAccount) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.SetRecoveryAccount(ctx, tx, a); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CleanupForCluster drops every other cluster's footprint from the
// catalog - clusterset_members, clusterset_views and instance rows not
// belonging to clusterID - atomically, per the §4.3 router-cleanup
// operation used when a cluster regains independence from a ClusterSet.
func (s *Storage) CleanupForCluster(ctx context.Context, tx *Transaction, clusterID string) error {
	stmts := []string{
		fmt.Sprintf(`delete from %s.clusterset_members where cluster_id <> ?`, SchemaName),
		fmt.Sprintf(`delete cv from %s.clusterset_views cv
			left join %s.clusterset_members m on m.clusterset_id = cv.clusterset_id
			where m.cluster_id is null`, SchemaName, SchemaName),
		fmt.Sprintf(`delete from %s.instances where cluster_id <> ?`, SchemaName),
		fmt.Sprintf(`delete c from %s.clusters c where c.cluster_id <> ?`, SchemaName),
		fmt.Sprintf(`delete from %s.clustersets where clusterset_id not in
			(select clusterset_id from %s.clusterset_members)`, SchemaName, SchemaName),
	}
	for _, stmt := range stmts {
		var err error
		if containsPlaceholder(stmt) {
			_, err = tx.tx.Execute(ctx, stmt, clusterID)
		} else {
			_, err = tx.tx.Execute(ctx, stmt)
		}
		if err != nil {
			return classifyWriteError(err)
		}
	}
	return nil
}

func containsPlaceholder(stmt string) bool {
	for i := 0; i < len(stmt); i++ {
		if stmt[i] == '?' {
			return true
		}
	}
	return false
}

// classifyWriteError maps a duplicate-key driver error (MySQL error 1062)
// to CodeBadArgDuplicateUUID; checkUnique already catches the documented
// address/UUID duplicates ahead of the insert, so this is a backstop for
// unique keys it didn't pre-check (e.g. cluster_name, router_name).
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDupEntry {
		return dbaerr.Wrap(dbaerr.CodeBadArgDuplicateUUID, "duplicate metadata row", err)
	}
	return err
}
