package httpapi

import (
	"net/http"
	"strings"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// AdminHandler 医院与员工管理
//
//	GET    /admin/api/v1/hospitals               列表（医院管理员只看到本院）
//	POST   /admin/api/v1/hospitals               注册（超级管理员；需随请求上报定位）
//	GET    /admin/api/v1/hospitals/{id}
//	PUT    /admin/api/v1/hospitals/{id}          修改身份信息（不改坐标）
//	DELETE /admin/api/v1/hospitals/{id}          级联删除（超级管理员）
//	POST   /admin/api/v1/hospitals/{id}/geofence 重新采集围栏中心
//	GET    /admin/api/v1/hospitals/{id}/staff
//	POST   /admin/api/v1/staff
//	DELETE /admin/api/v1/staff/{id}
//	POST   /admin/api/v1/staff/{id}/reset-device
type AdminHandler struct {
	hospitals service.HospitalService
	logger    *zap.Logger
}

func NewAdminHandler(hospitals service.HospitalService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{hospitals: hospitals, logger: logger}
}

const (
	hospitalsPath = "/admin/api/v1/hospitals"
	staffPath     = "/admin/api/v1/staff"
)

func (h *AdminHandler) Hospitals(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == hospitalsPath {
		switch r.Method {
		case http.MethodGet:
			h.listHospitals(w, r)
		case http.MethodPost:
			h.registerHospital(w, r)
		default:
			methodNotAllowed(w)
		}
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, hospitalsPath+"/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := scopeHospital(claimsFrom(r.Context()), id); !ok {
		writeJSON(w, http.StatusForbidden, Fail("hospital out of scope"))
		return
	}

	if len(parts) == 2 {
		switch {
		case parts[1] == "geofence" && r.Method == http.MethodPost:
			h.recaptureGeofence(w, r, id)
		case parts[1] == "staff" && r.Method == http.MethodGet:
			h.listStaff(w, r, id)
		case parts[1] == "geofence" || parts[1] == "staff":
			methodNotAllowed(w)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		hosp, err := h.hospitals.GetHospital(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(publicHospital(*hosp)))
	case http.MethodPut:
		h.updateHospital(w, r, id)
	case http.MethodDelete:
		h.deleteHospital(w, r, id)
	default:
		methodNotAllowed(w)
	}
}

func (h *AdminHandler) listHospitals(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	all, err := h.hospitals.ListHospitals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]domain.Hospital, 0, len(all))
	for _, hosp := range all {
		if _, ok := scopeHospital(claims, hosp.ID); ok {
			out = append(out, publicHospital(hosp))
		}
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

type registerHospitalBody struct {
	service.RegisterHospitalRequest
	LocationReport
}

func (h *AdminHandler) registerHospital(w http.ResponseWriter, r *http.Request) {
	if claimsFrom(r.Context()).Role != domain.RoleSuperAdmin {
		writeJSON(w, http.StatusForbidden, Fail("only super admin can register hospitals"))
		return
	}
	var body registerHospitalBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	r = withLocation(r, body.LocationReport)
	hosp, err := h.hospitals.RegisterHospital(r.Context(), body.RegisterHospitalRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(publicHospital(*hosp)))
}

func (h *AdminHandler) updateHospital(w http.ResponseWriter, r *http.Request, id string) {
	var req service.UpdateHospitalRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	hosp, err := h.hospitals.UpdateHospital(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(publicHospital(*hosp)))
}

func (h *AdminHandler) deleteHospital(w http.ResponseWriter, r *http.Request, id string) {
	if claimsFrom(r.Context()).Role != domain.RoleSuperAdmin {
		writeJSON(w, http.StatusForbidden, Fail("only super admin can delete hospitals"))
		return
	}
	res, err := h.hospitals.DeleteHospital(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

func (h *AdminHandler) recaptureGeofence(w http.ResponseWriter, r *http.Request, id string) {
	var rep LocationReport
	if err := readBodyJSON(r, 1<<20, &rep); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	r = withLocation(r, rep)
	hosp, err := h.hospitals.RecaptureGeofence(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(publicHospital(*hosp)))
}

func (h *AdminHandler) listStaff(w http.ResponseWriter, r *http.Request, hospitalID string) {
	staff, err := h.hospitals.ListStaff(r.Context(), hospitalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(staff))
}

func (h *AdminHandler) Staff(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if r.URL.Path == staffPath {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req service.CreateStaffRequest
		if err := readBodyJSON(r, 1<<20, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		hospitalID, ok := scopeHospital(claims, req.HospitalID)
		if !ok {
			writeJSON(w, http.StatusForbidden, Fail("hospital out of scope"))
			return
		}
		req.HospitalID = hospitalID
		u, err := h.hospitals.CreateStaff(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(u))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, staffPath+"/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if ok, err := h.staffInScope(r, claims, id); err != nil {
		writeError(w, err)
		return
	} else if !ok {
		writeJSON(w, http.StatusForbidden, Fail("staff out of scope"))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := h.hospitals.DeleteStaff(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		h.logger.Info("Staff deleted", zap.String("user_id", id), zap.String("by", claims.UserID))
		writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
	case len(parts) == 2 && parts[1] == "reset-device" && r.Method == http.MethodPost:
		u, err := h.hospitals.ResetDeviceBinding(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(u))
	default:
		methodNotAllowed(w)
	}
}

// staffInScope 医院管理员只能操作本院员工
func (h *AdminHandler) staffInScope(r *http.Request, claims *service.Claims, userID string) (bool, error) {
	if claims.Role == domain.RoleSuperAdmin {
		return true, nil
	}
	staff, err := h.hospitals.ListStaff(r.Context(), claims.HospitalID)
	if err != nil {
		return false, err
	}
	for _, u := range staff {
		if u.ID == userID {
			return true, nil
		}
	}
	return false, nil
}
